package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
)

const (
	TransactionTypePayBill  = "CustomerPayBillOnline"
	TransactionTypeBuyGoods = "CustomerBuyGoodsOnline"

	maxAccountReferenceLen = 12
	maxTransactionDescLen  = 13
)

var (
	phoneRe     = regexp.MustCompile(`^254[17][0-9]{8}$`)
	shortCodeRe = regexp.MustCompile(`^[0-9]{5,9}$`)
)

// PaymentRequest describes one STK push attempt. The request carries no
// server-side session; the ids in the acknowledgement are the only link to
// the eventual result.
type PaymentRequest struct {
	PhoneNumber      string `json:"phone_number"`
	Amount           int    `json:"amount"`
	AccountReference string `json:"account_reference"`
	TransactionDesc  string `json:"transaction_desc"`
	// TransactionType defaults to CustomerBuyGoodsOnline (Till payments).
	TransactionType string `json:"transaction_type,omitempty"`
	// ShortCode overrides the configured business shortcode for this
	// request only.
	ShortCode string `json:"shortcode,omitempty"`
}

// PaymentAcknowledgement is the switch's synchronous reply: proof the push
// was queued on the payer's device, not proof that money moved.
type PaymentAcknowledgement struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int    `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// NormalizePhone strips "+" and spaces and checks the country-coded
// Kenyan format (2547XXXXXXXX / 2541XXXXXXXX).
func NormalizePhone(phone string) (string, error) {
	normalized := strings.ReplaceAll(strings.ReplaceAll(phone, "+", ""), " ", "")
	if !phoneRe.MatchString(normalized) {
		return "", &ValidationError{Field: "phone_number", Message: "must be a country-coded number like 2547XXXXXXXX"}
	}
	return normalized, nil
}

func (r *PaymentRequest) validate() (string, error) {
	if r.PhoneNumber == "" {
		return "", &ValidationError{Field: "phone_number", Message: "is required"}
	}
	if r.Amount <= 0 {
		return "", &ValidationError{Field: "amount", Message: "must be a positive integer"}
	}
	if r.AccountReference == "" {
		return "", &ValidationError{Field: "account_reference", Message: "is required"}
	}
	if len(r.AccountReference) > maxAccountReferenceLen {
		return "", &ValidationError{Field: "account_reference", Message: "must be at most 12 characters"}
	}
	if r.TransactionDesc == "" {
		return "", &ValidationError{Field: "transaction_desc", Message: "is required"}
	}
	if len(r.TransactionDesc) > maxTransactionDescLen {
		return "", &ValidationError{Field: "transaction_desc", Message: "must be at most 13 characters"}
	}
	if r.TransactionType != "" && r.TransactionType != TransactionTypePayBill && r.TransactionType != TransactionTypeBuyGoods {
		return "", &ValidationError{Field: "transaction_type", Message: "must be CustomerPayBillOnline or CustomerBuyGoodsOnline"}
	}
	if r.ShortCode != "" && !shortCodeRe.MatchString(r.ShortCode) {
		return "", &ValidationError{Field: "shortcode", Message: "must be a 5-9 digit number"}
	}
	return NormalizePhone(r.PhoneNumber)
}

// InitiatePayment validates the request, obtains a token, signs the
// payload and sends the STK push. A nil error means the switch queued a
// prompt on the payer's device; the financial outcome arrives later on
// the notification channel.
func (c *Client) InitiatePayment(ctx context.Context, request PaymentRequest) (*PaymentAcknowledgement, error) {
	phone, err := request.validate()
	if err != nil {
		return nil, err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	shortCode := request.ShortCode
	if shortCode == "" {
		shortCode = c.cfg.BusinessShortCode
	}
	transactionType := request.TransactionType
	if transactionType == "" {
		transactionType = TransactionTypeBuyGoods
	}

	timestamp := c.Timestamp()
	payload := stkPushPayload{
		BusinessShortCode: shortCode,
		Password:          DerivePassword(shortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            request.Amount,
		PartyA:            phone,
		PartyB:            shortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  request.AccountReference,
		TransactionDesc:   request.TransactionDesc,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &PaymentError{Message: "encode push payload", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, &PaymentError{Message: "build push request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("initiating STK push",
		"shortcode", shortCode,
		"amount", request.Amount,
		"reference", request.AccountReference,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &PaymentError{Message: "push request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &PaymentError{Message: "push rejected", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var ack PaymentAcknowledgement
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return nil, &PaymentError{Message: "invalid push response", Err: err, Body: string(respBody)}
	}

	c.logger.Info("STK push queued",
		"merchant_request_id", ack.MerchantRequestID,
		"checkout_request_id", ack.CheckoutRequestID,
	)
	return &ack, nil
}
