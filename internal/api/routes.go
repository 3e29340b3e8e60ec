// Package api is the HTTP adapter over the ledger and stock services
package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/retail-platform/ledger-service/internal/application"
	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/errors"
	"github.com/retail-platform/ledger-service/pkg/logging"
)

// Services groups the application services exposed over HTTP
type Services struct {
	Credit  *application.CreditLedgerService
	Stock   *application.StockService
	Summary *application.InventorySummaryService
}

var statusOnce sync.Once

var domainStatuses = map[domain.ErrorCode]int{
	domain.CodeInvalidAmount:           http.StatusBadRequest,
	domain.CodeCreditLimitExceeded:     http.StatusUnprocessableEntity,
	domain.CodeCustomerNotFound:        http.StatusNotFound,
	domain.CodeCustomerNameRequired:    http.StatusBadRequest,
	domain.CodeBalanceUpdateFailed:     http.StatusConflict,
	domain.CodeTransactionRecordFailed: http.StatusInternalServerError,
	domain.CodeInvalidAdjustment:       http.StatusBadRequest,
	domain.CodeInvalidReversal:         http.StatusConflict,
	domain.CodeInsufficientStock:       http.StatusConflict,
	domain.CodeDatabaseError:           http.StatusInternalServerError,
	domain.CodeTransactionCancelled:    http.StatusConflict,
	domain.CodeValidation:              http.StatusBadRequest,
	domain.CodeProductNotFound:         http.StatusNotFound,
	domain.CodeOrderTooLarge:           http.StatusRequestEntityTooLarge,
	domain.CodeIdempotencyKeyRequired:  http.StatusBadRequest,
	domain.CodeIdempotencyKeyMismatch:  http.StatusUnprocessableEntity,
}

// RegisterRoutes mounts the store API under group, e.g. /api/v1
func RegisterRoutes(group *gin.RouterGroup, services Services, logger *logging.Logger) {
	statusOnce.Do(func() {
		for code, status := range domainStatuses {
			errors.RegisterStatus(string(code), status)
		}
	})

	store := group.Group("/stores/:storeId")

	customers := store.Group("/customers/:phone")
	{
		customers.POST("/credit-sales", recordCreditSaleHandler(services.Credit, logger))
		customers.POST("/payments", recordPaymentHandler(services.Credit, logger))
		customers.POST("/adjustments", adjustBalanceHandler(services.Credit, logger))
		customers.GET("/ledger", customerLedgerHandler(services.Credit, logger))
	}
	store.POST("/transactions/:transactionId/reversal", reverseTransactionHandler(services.Credit, logger))

	products := store.Group("/products/:productId")
	{
		products.PUT("", upsertProductHandler(services.Stock, logger))
		products.GET("", getStockHandler(services.Stock, logger))
		products.POST("/adjustments", adjustStockHandler(services.Stock, logger))
		products.GET("/movements", listMovementsHandler(services.Stock, logger))
	}
	store.POST("/orders/stock-changes", applyOrderHandler(services.Stock, logger))

	inventory := store.Group("/inventory")
	{
		inventory.GET("/summary", inventorySummaryHandler(services.Summary, logger))
		inventory.GET("/counters", countersHandler(services.Summary, logger))
		inventory.POST("/reconcile", reconcileHandler(services.Summary, logger))
	}
}
