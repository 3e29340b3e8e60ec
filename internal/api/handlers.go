package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retail-platform/ledger-service/internal/application"
	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/errors"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/middleware"
)

// HeaderActor names the operator recorded as createdBy when the body omits it
const HeaderActor = "X-Actor"

func recordCreditSaleHandler(service *application.CreditLedgerService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var cmd application.RecordCreditSaleCommand
		if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		cmd.StoreID = c.Param("storeId")
		cmd.CustomerPhone = c.Param("phone")
		cmd.CreatedBy = actor(c, cmd.CreatedBy)
		cmd.IdempotencyKey = idempotencyKey(c, cmd.IdempotencyKey)

		result, err := service.RecordCreditSale(withActor(c, cmd.CreatedBy), cmd)
		respondTransaction(c, responder, result, err)
	}
}

func recordPaymentHandler(service *application.CreditLedgerService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var cmd application.RecordPaymentCommand
		if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		cmd.StoreID = c.Param("storeId")
		cmd.CustomerPhone = c.Param("phone")
		cmd.CreatedBy = actor(c, cmd.CreatedBy)
		cmd.IdempotencyKey = idempotencyKey(c, cmd.IdempotencyKey)

		result, err := service.RecordPayment(withActor(c, cmd.CreatedBy), cmd)
		respondTransaction(c, responder, result, err)
	}
}

func adjustBalanceHandler(service *application.CreditLedgerService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var cmd application.AdjustBalanceCommand
		if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		cmd.StoreID = c.Param("storeId")
		cmd.CustomerPhone = c.Param("phone")
		cmd.CreatedBy = actor(c, cmd.CreatedBy)
		cmd.IdempotencyKey = idempotencyKey(c, cmd.IdempotencyKey)

		result, err := service.AdjustBalance(withActor(c, cmd.CreatedBy), cmd)
		respondTransaction(c, responder, result, err)
	}
}

func reverseTransactionHandler(service *application.CreditLedgerService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var cmd application.ReverseTransactionCommand
		if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		cmd.StoreID = c.Param("storeId")
		cmd.TransactionID = c.Param("transactionId")
		cmd.CreatedBy = actor(c, cmd.CreatedBy)
		cmd.IdempotencyKey = idempotencyKey(c, cmd.IdempotencyKey)

		result, err := service.ReverseTransaction(withActor(c, cmd.CreatedBy), cmd)
		respondTransaction(c, responder, result, err)
	}
}

type ledgerParams struct {
	From   string `form:"from"`
	To     string `form:"to"`
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

func customerLedgerHandler(service *application.CreditLedgerService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var params ledgerParams
		if appErr := middleware.BindQuery(c, &params); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		query := application.GetCustomerLedgerQuery{
			StoreID:       c.Param("storeId"),
			CustomerPhone: c.Param("phone"),
			Cursor:        params.Cursor,
			Limit:         params.Limit,
		}
		var err error
		if query.From, err = parseTime("from", params.From); err != nil {
			responder.RespondWithError(err)
			return
		}
		if query.To, err = parseTime("to", params.To); err != nil {
			responder.RespondWithError(err)
			return
		}

		ledger, err := service.GetCustomerLedger(c.Request.Context(), query)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, ledger)
	}
}

func upsertProductHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var cmd application.UpsertProductCommand
		if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		cmd.StoreID = c.Param("storeId")
		cmd.ProductID = c.Param("productId")

		record, err := service.UpsertProduct(c.Request.Context(), cmd)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func getStockHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := service.GetStock(c.Request.Context(), c.Param("storeId"), c.Param("productId"))
		if err != nil {
			middleware.NewErrorResponder(c, logger.Logger).RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func adjustStockHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var cmd application.AdjustStockCommand
		if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		cmd.StoreID = c.Param("storeId")
		cmd.ProductID = c.Param("productId")

		change, err := service.AdjustStock(c.Request.Context(), cmd)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, change)
	}
}

func listMovementsHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))

		movements, err := service.ListMovements(c.Request.Context(), c.Param("storeId"), c.Param("productId"), limit)
		if err != nil {
			middleware.NewErrorResponder(c, logger.Logger).RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"movements": movements})
	}
}

func applyOrderHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var cmd application.ApplyOrderStockChangesCommand
		if appErr := middleware.BindAndValidate(c, &cmd); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		cmd.StoreID = c.Param("storeId")

		result, err := service.ApplyOrderStockChanges(c.Request.Context(), cmd)
		if result == nil {
			responder.RespondWithError(err)
			return
		}
		status := http.StatusOK
		if !result.Success {
			status = errors.StatusFor(string(result.ErrorCode))
		}
		c.JSON(status, result)
	}
}

func inventorySummaryHandler(service *application.InventorySummaryService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		skipCache, _ := strconv.ParseBool(c.Query("skipCache"))

		summary, err := service.GetInventorySummary(c.Request.Context(), application.GetInventorySummaryQuery{
			StoreID:   c.Param("storeId"),
			SkipCache: skipCache,
		})
		if err != nil {
			middleware.NewErrorResponder(c, logger.Logger).RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func countersHandler(service *application.InventorySummaryService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		counters, err := service.GetCounters(c.Request.Context(), c.Param("storeId"))
		if err != nil {
			middleware.NewErrorResponder(c, logger.Logger).RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, counters)
	}
}

func reconcileHandler(service *application.InventorySummaryService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := service.ReconcileCounters(c.Request.Context(), c.Param("storeId"))
		if err != nil {
			middleware.NewErrorResponder(c, logger.Logger).RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, results[0])
	}
}

// respondTransaction renders a TransactionResult with the status its error code maps to
func respondTransaction(c *gin.Context, responder *middleware.ErrorResponder, result *application.TransactionResult, err error) {
	if result == nil {
		responder.RespondWithError(err)
		return
	}

	status := http.StatusCreated
	switch {
	case !result.Success:
		status = errors.StatusFor(string(result.ErrorCode))
	case result.Replayed:
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func idempotencyKey(c *gin.Context, fromBody string) string {
	if key := c.GetHeader(middleware.HeaderIdempotencyKey); key != "" {
		return key
	}
	return fromBody
}

func actor(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(HeaderActor)
}

func withActor(c *gin.Context, createdBy string) context.Context {
	if createdBy == "" {
		return c.Request.Context()
	}
	return logging.ContextWithActor(c.Request.Context(), createdBy)
}

func parseTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, domain.NewFieldError(field, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}
