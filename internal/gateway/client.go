package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 10 * time.Second

	opInitialize = "initialize"
	opVerify     = "verify"
)

// Config is everything the client needs to talk to the gateway. It is passed
// in explicitly; the client never reads the process environment.
type Config struct {
	BaseURL     string
	SecretKey   string
	Timeout     time.Duration
	CallbackURL string
	ReturnURL   string
	RetryCount  int
}

type Customer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

type ChargeRequest struct {
	Amount         int64
	Currency       string
	TransactionRef string
	Customer       Customer
	// CallbackURL and ReturnURL override the configured defaults when set.
	CallbackURL string
	ReturnURL   string
}

type ChargeSession struct {
	CheckoutURL string
}

// Result is a normalized verification answer. Verified is false when the
// gateway does not know the reference; the other fields are then empty.
type Result struct {
	Verified             bool                 `json:"verified"`
	TransactionRef       string               `json:"tx_ref"`
	GatewayTransactionID string               `json:"reference"`
	Amount               int64                `json:"amount"`
	Currency             string               `json:"currency"`
	Outcome              domain.ChargeOutcome `json:"outcome"`
}

// Evidence turns a verified result into engine input.
func (r Result) Evidence(source domain.EvidenceSource) domain.Evidence {
	return domain.Evidence{
		Outcome:              r.Outcome,
		Amount:               r.Amount,
		Currency:             r.Currency,
		GatewayTransactionID: r.GatewayTransactionID,
		Source:               source,
	}
}

type Verifier interface {
	VerifyCharge(ctx context.Context, reference string) (Result, error)
}

type Gateway interface {
	Verifier
	InitializeCharge(ctx context.Context, req ChargeRequest) (ChargeSession, error)
}

type initRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	TxRef       string `json:"tx_ref"`
	CallbackURL string `json:"callback_url,omitempty"`
	ReturnURL   string `json:"return_url,omitempty"`
}

type initResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

type verifyResponse struct {
	Message string      `json:"message"`
	Status  string      `json:"status"`
	Data    *verifyData `json:"data"`
}

type verifyData struct {
	Status    string      `json:"status" validate:"required"`
	Amount    json.Number `json:"amount" validate:"required"`
	Currency  string      `json:"currency" validate:"required"`
	TxRef     string      `json:"tx_ref" validate:"required"`
	Reference string      `json:"reference"`
}

// apiError is the gateway's error body. message is sometimes an object, so
// it is kept raw.
type apiError struct {
	Message json.RawMessage `json:"message"`
	Status  string          `json:"status"`
}

func (e apiError) String() string {
	return strings.Trim(string(e.Message), `"`)
}

type Client struct {
	http     *resty.Client
	cfg      Config
	log      logrus.FieldLogger
	validate *validator.Validate
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryableRead)

	return &Client{
		http:     httpClient,
		cfg:      cfg,
		log:      log,
		validate: validator.New(),
	}
}

// retryableRead retries verification reads on transport errors and 5xx.
// Initialization is never retried: a duplicate POST could open a second
// checkout for the same reference.
func retryableRead(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || r.StatusCode() >= http.StatusInternalServerError
}

func (c *Client) InitializeCharge(ctx context.Context, req ChargeRequest) (ChargeSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body := initRequest{
		Amount:      domain.FormatAmount(req.Amount),
		Currency:    req.Currency,
		Email:       req.Customer.Email,
		FirstName:   req.Customer.FirstName,
		LastName:    req.Customer.LastName,
		PhoneNumber: req.Customer.Phone,
		TxRef:       req.TransactionRef,
		CallbackURL: firstNonEmpty(req.CallbackURL, c.cfg.CallbackURL),
		ReturnURL:   firstNonEmpty(req.ReturnURL, c.cfg.ReturnURL),
	}

	var ok initResponse
	var apiErr apiError
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&ok).
		SetError(&apiErr).
		Post("/transaction/initialize")

	logger := c.log.WithField("transaction_ref", req.TransactionRef)
	switch {
	case err != nil:
		observe(opInitialize, "unavailable", start)
		logger.WithError(err).Error("gateway initialize request failed")
		return ChargeSession{}, fmt.Errorf("%w: initialize %s: %v", domain.ErrGatewayUnavailable, req.TransactionRef, err)
	case resp.StatusCode() >= http.StatusInternalServerError:
		observe(opInitialize, "unavailable", start)
		logger.WithField("status", resp.Status()).Error("gateway initialize returned server error")
		return ChargeSession{}, fmt.Errorf("%w: initialize %s: status %s", domain.ErrGatewayUnavailable, req.TransactionRef, resp.Status())
	case resp.IsError():
		observe(opInitialize, "rejected", start)
		logger.WithFields(logrus.Fields{"status": resp.Status(), "message": apiErr.String()}).Warn("gateway refused initialize")
		return ChargeSession{}, fmt.Errorf("%w: %s", domain.ErrGatewayRejectedRequest, apiErr.String())
	case ok.Status != "success" || ok.Data.CheckoutURL == "":
		observe(opInitialize, "rejected", start)
		logger.WithFields(logrus.Fields{"status": ok.Status, "message": ok.Message}).Warn("gateway initialize was not successful")
		return ChargeSession{}, fmt.Errorf("%w: %s", domain.ErrGatewayRejectedRequest, ok.Message)
	}

	observe(opInitialize, "ok", start)
	return ChargeSession{CheckoutURL: ok.Data.CheckoutURL}, nil
}

// VerifyCharge asks the gateway how the charge identified by reference ended.
// reference may be our transaction reference or the gateway's own id.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (Result, error) {
	if strings.TrimSpace(reference) == "" {
		return Result{}, fmt.Errorf("%w: empty reference", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var ok verifyResponse
	var apiErr apiError
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("reference", reference).
		SetResult(&ok).
		SetError(&apiErr).
		Get("/transaction/verify/{reference}")

	logger := c.log.WithField("reference", reference)
	switch {
	case err != nil:
		observe(opVerify, "unavailable", start)
		logger.WithError(err).Error("gateway verify request failed")
		return Result{}, fmt.Errorf("%w: verify %s: %v", domain.ErrGatewayUnavailable, reference, err)
	case resp.StatusCode() >= http.StatusInternalServerError:
		observe(opVerify, "unavailable", start)
		logger.WithField("status", resp.Status()).Error("gateway verify returned server error")
		return Result{}, fmt.Errorf("%w: verify %s: status %s", domain.ErrGatewayUnavailable, reference, resp.Status())
	case resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusBadRequest:
		observe(opVerify, "not_found", start)
		logger.WithField("message", apiErr.String()).Info("gateway does not know the reference")
		return Result{Verified: false}, nil
	case resp.IsError():
		observe(opVerify, "unavailable", start)
		logger.WithFields(logrus.Fields{"status": resp.Status(), "message": apiErr.String()}).Error("gateway refused verify")
		return Result{}, fmt.Errorf("%w: verify %s: status %s", domain.ErrGatewayUnavailable, reference, resp.Status())
	}

	if ok.Status != "success" || ok.Data == nil {
		observe(opVerify, "not_found", start)
		return Result{Verified: false}, nil
	}
	if err := c.validate.Struct(ok.Data); err != nil {
		observe(opVerify, "unavailable", start)
		logger.WithError(err).Error("gateway verify response is malformed")
		return Result{}, fmt.Errorf("%w: verify %s: malformed response: %v", domain.ErrGatewayUnavailable, reference, err)
	}

	amount, err := domain.ParseAmount(ok.Data.Amount.String())
	if err != nil {
		// Zero never matches a recorded charge, so the engine treats this as
		// a mismatch instead of rounding.
		logger.WithError(err).Warn("gateway amount is not representable in minor units")
		amount = 0
	}

	observe(opVerify, "ok", start)
	return Result{
		Verified:             true,
		TransactionRef:       ok.Data.TxRef,
		GatewayTransactionID: ok.Data.Reference,
		Amount:               amount,
		Currency:             domain.NormalizeCurrency(ok.Data.Currency),
		Outcome:              NormalizeOutcome(ok.Data.Status),
	}, nil
}

// NormalizeOutcome maps the gateway's status vocabulary onto ours. Anything
// unrecognized is treated as still pending.
func NormalizeOutcome(status string) domain.ChargeOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful":
		return domain.ChargeSuccessful
	case "failed", "failure", "cancelled":
		return domain.ChargeFailed
	default:
		return domain.ChargePending
	}
}

func observe(op, result string, start time.Time) {
	metrics.GatewayLatency.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsRetryable reports whether err is worth retrying later without changing
// any state.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrGatewayUnavailable)
}

var _ Gateway = (*Client)(nil)
