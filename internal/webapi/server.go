package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/scarab/internal/paymentproof"
	"github.com/MarkoPoloResearchLab/scarab/pkg/scarab"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// ledgerService is the slice of the scarab service consumed by the facade.
type ledgerService interface {
	GetBalance(ctx context.Context, address scarab.Address) (scarab.Account, error)
	TransactionHistory(ctx context.Context, address scarab.Address, limit int, offset int) (scarab.TransactionHistory, error)
	ClaimDaily(ctx context.Context, address scarab.Address, boosted bool, metadata scarab.MetadataJSON) (scarab.ClaimResult, error)
	Spend(ctx context.Context, address scarab.Address, purpose scarab.SpendPurpose, relatedID string, metadata scarab.MetadataJSON) (int64, error)
	CreatePurchase(ctx context.Context, address scarab.Address, tier scarab.PurchaseTier) (scarab.Purchase, error)
	ConfirmPurchase(ctx context.Context, purchaseID scarab.PurchaseID, txHash scarab.TxHash) (scarab.ConfirmResult, error)
	FailPurchase(ctx context.Context, purchaseID scarab.PurchaseID) error
	GetPurchase(ctx context.Context, purchaseID scarab.PurchaseID) (scarab.Purchase, error)
	ListPurchases(ctx context.Context, address scarab.Address, limit int) ([]scarab.Purchase, error)
}

// Run boots the HTTP facade using the supplied configuration and service.
func Run(ctx context.Context, cfg Config, service ledgerService, verifier paymentproof.Verifier, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:   logger,
		service:  service,
		verifier: verifier,
		cfg:      cfg,
	}
	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scarab api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/wallet", handler.handleWallet)
	api.GET("/tier", handler.handleTier)
	api.POST("/claims", handler.handleClaim)
	api.POST("/spends", handler.handleSpend)
	api.POST("/purchases", handler.handleCreatePurchase)
	api.GET("/purchases", handler.handleListPurchases)

	webhooks := router.Group("/webhooks")
	webhooks.Use(webhookAuthMiddleware([]byte(cfg.WebhookSigningKey), cfg.WebhookIssuer))
	webhooks.POST("/payments", handler.handlePaymentWebhook)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	service  ledgerService
	verifier paymentproof.Verifier
	cfg      Config
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	address, ok := handler.sessionAddress(ctx)
	if !ok {
		return
	}
	limit := intQuery(ctx, "limit", 0)
	offset := intQuery(ctx, "offset", 0)

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	account, err := handler.service.GetBalance(requestCtx, address)
	if err != nil {
		handler.respondError(ctx, "balance fetch failed", err)
		return
	}
	history, err := handler.service.TransactionHistory(requestCtx, address, limit, offset)
	if err != nil {
		handler.respondError(ctx, "history fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": walletPayloadFrom(account, history)})
}

func (handler *httpHandler) handleTier(ctx *gin.Context) {
	address, ok := handler.sessionAddress(ctx)
	if !ok {
		return
	}
	reputationScore := int64(intQuery(ctx, "reputation_score", 0))

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	account, err := handler.service.GetBalance(requestCtx, address)
	if err != nil {
		handler.respondError(ctx, "balance fetch failed", err)
		return
	}
	tier := scarab.ComputeTier(reputationScore, account.Balance)
	ctx.JSON(http.StatusOK, gin.H{
		"trust_level":      tier.TrustLevel.String(),
		"fee_basis_points": tier.FeeBasisPoints,
		"scarab_balance":   account.Balance,
		"reputation_score": reputationScore,
	})
}

func (handler *httpHandler) handleClaim(ctx *gin.Context) {
	address, ok := handler.sessionAddress(ctx)
	if !ok {
		return
	}
	var request claimRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	metadata, err := metadataFrom(request.Metadata, map[string]any{"action": "claim"})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", err.Error()))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	result, err := handler.service.ClaimDaily(requestCtx, address, request.Boosted, metadata)
	if err != nil {
		handler.respondError(ctx, "claim failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"amount":      result.Amount,
		"streak":      result.Streak,
		"first_claim": result.FirstClaim,
		"balance":     result.Balance,
	})
}

func (handler *httpHandler) handleSpend(ctx *gin.Context) {
	address, ok := handler.sessionAddress(ctx)
	if !ok {
		return
	}
	var request spendRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	purpose, err := scarab.ParseSpendPurpose(request.Purpose)
	if err != nil {
		handler.respondError(ctx, "spend rejected", err)
		return
	}
	metadata, err := metadataFrom(request.Metadata, map[string]any{"purpose": purpose.String()})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", err.Error()))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	balance, err := handler.service.Spend(requestCtx, address, purpose, request.RelatedID, metadata)
	if err != nil {
		handler.respondError(ctx, "spend failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (handler *httpHandler) handleCreatePurchase(ctx *gin.Context) {
	address, ok := handler.sessionAddress(ctx)
	if !ok {
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tier, err := scarab.ParsePurchaseTier(request.Tier)
	if err != nil {
		handler.respondError(ctx, "purchase rejected", err)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	purchase, err := handler.service.CreatePurchase(requestCtx, address, tier)
	if err != nil {
		handler.respondError(ctx, "purchase create failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"purchase": purchasePayloadFrom(purchase)})
}

func (handler *httpHandler) handleListPurchases(ctx *gin.Context) {
	address, ok := handler.sessionAddress(ctx)
	if !ok {
		return
	}
	limit := intQuery(ctx, "limit", 0)

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	purchases, err := handler.service.ListPurchases(requestCtx, address, limit)
	if err != nil {
		handler.respondError(ctx, "purchase list failed", err)
		return
	}
	payloads := make([]purchasePayload, 0, len(purchases))
	for _, purchase := range purchases {
		payloads = append(payloads, purchasePayloadFrom(purchase))
	}
	ctx.JSON(http.StatusOK, gin.H{"purchases": payloads})
}

func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	var request paymentWebhookRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	purchaseID, err := scarab.NewPurchaseID(request.PurchaseID)
	if err != nil {
		handler.respondError(ctx, "webhook rejected", err)
		return
	}
	txHash, err := scarab.NewTxHash(request.TxHash)
	if err != nil {
		handler.respondError(ctx, "webhook rejected", err)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	purchase, err := handler.service.GetPurchase(requestCtx, purchaseID)
	if err != nil {
		handler.respondError(ctx, "purchase lookup failed", err)
		return
	}
	if err := handler.verifier.VerifySettlement(requestCtx, txHash.String(), purchase.USDCCents); err != nil {
		if errors.Is(err, paymentproof.ErrNotSettled) {
			if failErr := handler.service.FailPurchase(requestCtx, purchaseID); failErr != nil {
				handler.respondError(ctx, "purchase fail transition failed", failErr)
				return
			}
			ctx.JSON(http.StatusUnprocessableEntity, errorResponse("payment_not_settled", err.Error()))
			return
		}
		handler.logger.Error("settlement verification failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("verifier_error", "settlement verification unavailable"))
		return
	}
	result, err := handler.service.ConfirmPurchase(requestCtx, purchaseID, txHash)
	if err != nil {
		handler.respondError(ctx, "purchase confirm failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"scarab_amount": result.ScarabAmount,
		"balance":       result.Balance,
	})
}

func (handler *httpHandler) sessionAddress(ctx *gin.Context) (scarab.Address, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return scarab.Address{}, false
	}
	address, err := scarab.NewAddress(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_address", "session subject is not a valid address"))
		return scarab.Address{}, false
	}
	return address, true
}

func (handler *httpHandler) respondError(ctx *gin.Context, message string, err error) {
	statusCode, errorCode := statusForError(err)
	if statusCode >= http.StatusInternalServerError {
		handler.logger.Error(message, zap.Error(err))
	}
	ctx.JSON(statusCode, errorResponse(errorCode, userFacingMessage(err)))
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, scarab.ErrInvalidAddress),
		errors.Is(err, scarab.ErrInvalidPurpose),
		errors.Is(err, scarab.ErrInvalidTier),
		errors.Is(err, scarab.ErrInvalidTxHash),
		errors.Is(err, scarab.ErrInvalidPurchaseID):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, scarab.ErrAlreadyClaimedToday):
		return http.StatusConflict, "already_claimed_today"
	case errors.Is(err, scarab.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, scarab.ErrPurchaseNotFound):
		return http.StatusNotFound, "purchase_not_found"
	case errors.Is(err, scarab.ErrPurchaseAlreadyConfirmed):
		return http.StatusConflict, "purchase_already_confirmed"
	case errors.Is(err, scarab.ErrPurchaseClosed):
		return http.StatusConflict, "purchase_closed"
	case errors.Is(err, scarab.ErrTxHashReused):
		return http.StatusConflict, "tx_hash_reused"
	case errors.Is(err, scarab.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func userFacingMessage(err error) string {
	var operationError scarab.OperationError
	if errors.As(err, &operationError) {
		return operationError.Unwrap().Error()
	}
	return err.Error()
}

func webhookAuthMiddleware(signingKey []byte, issuer string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || strings.TrimSpace(token) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return signingKey, nil
		}, jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid webhook token"))
			return
		}
		ctx.Next()
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func metadataFrom(raw map[string]any, fallback map[string]any) (scarab.MetadataJSON, error) {
	value := raw
	if value == nil {
		value = fallback
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return scarab.MetadataJSON{}, err
	}
	return scarab.NewMetadataJSON(string(encoded))
}

func intQuery(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

type claimRequest struct {
	Boosted  bool           `json:"boosted"`
	Metadata map[string]any `json:"metadata"`
}

type spendRequest struct {
	Purpose   string         `json:"purpose"`
	RelatedID string         `json:"related_id"`
	Metadata  map[string]any `json:"metadata"`
}

type purchaseRequest struct {
	Tier string `json:"tier"`
}

type paymentWebhookRequest struct {
	PurchaseID string `json:"purchase_id"`
	TxHash     string `json:"tx_hash"`
}

type walletPayload struct {
	Address          string         `json:"address"`
	Balance          int64          `json:"balance"`
	TotalEarned      int64          `json:"total_earned"`
	TotalSpent       int64          `json:"total_spent"`
	TotalPurchased   int64          `json:"total_purchased"`
	Streak           int64          `json:"streak"`
	LastClaimUnixUTC int64          `json:"last_claim_unix_utc"`
	Entries          []entryPayload `json:"entries"`
	TotalCount       int64          `json:"total_count"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Kind           string          `json:"kind"`
	Amount         int64           `json:"amount"`
	RelatedID      string          `json:"related_id"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type purchasePayload struct {
	PurchaseID       string `json:"purchase_id"`
	Tier             string `json:"tier"`
	USDCCents        int64  `json:"usdc_cents"`
	ScarabAmount     int64  `json:"scarab_amount"`
	Status           string `json:"status"`
	TxHash           string `json:"tx_hash"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
	ConfirmedUnixUTC int64  `json:"confirmed_unix_utc"`
}

func walletPayloadFrom(account scarab.Account, history scarab.TransactionHistory) walletPayload {
	entries := make([]entryPayload, 0, len(history.Entries))
	for _, entry := range history.Entries {
		entries = append(entries, entryPayload{
			EntryID:        entry.EntryID,
			Kind:           entry.Kind.String(),
			Amount:         entry.Amount,
			RelatedID:      entry.RelatedID,
			Metadata:       json.RawMessage(entry.Metadata.String()),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	return walletPayload{
		Address:          account.Address.String(),
		Balance:          account.Balance,
		TotalEarned:      account.TotalEarned,
		TotalSpent:       account.TotalSpent,
		TotalPurchased:   account.TotalPurchased,
		Streak:           account.Streak,
		LastClaimUnixUTC: account.LastClaimUnixUTC,
		Entries:          entries,
		TotalCount:       history.TotalCount,
	}
}

func purchasePayloadFrom(purchase scarab.Purchase) purchasePayload {
	return purchasePayload{
		PurchaseID:       purchase.PurchaseID,
		Tier:             purchase.Tier.String(),
		USDCCents:        purchase.USDCCents,
		ScarabAmount:     purchase.ScarabAmount,
		Status:           purchase.Status.String(),
		TxHash:           purchase.TxHash,
		CreatedUnixUTC:   purchase.CreatedUnixUTC,
		ConfirmedUnixUTC: purchase.ConfirmedUnixUTC,
	}
}
