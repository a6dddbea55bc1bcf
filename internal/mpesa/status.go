package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/seven7-ai/mpesa-gobackend/internal/models"
)

const (
	commandTransactionStatus = "TransactionStatusQuery"
	// Identifier type 4: organization shortcode.
	identifierTypeShortCode = "4"

	maxRemarksLen = 100
)

// StatusQuery asks the switch for the outcome of a specific request.
// Exactly one of CheckoutRequestID and OriginatorConversationID must be
// set.
type StatusQuery struct {
	CheckoutRequestID        string `json:"checkout_request_id,omitempty"`
	OriginatorConversationID string `json:"originator_conversation_id,omitempty"`
	Remarks                  string `json:"remarks,omitempty"`
	Occasion                 string `json:"occasion,omitempty"`
	// ShortCode overrides the configured business shortcode.
	ShortCode string `json:"shortcode,omitempty"`
}

func (q *StatusQuery) validate() error {
	hasCheckout := q.CheckoutRequestID != ""
	hasOriginator := q.OriginatorConversationID != ""
	if hasCheckout == hasOriginator {
		return &ValidationError{Message: "exactly one of checkout_request_id and originator_conversation_id is required"}
	}
	if len(q.Remarks) > maxRemarksLen {
		return &ValidationError{Field: "remarks", Message: "must be at most 100 characters"}
	}
	if len(q.Occasion) > maxRemarksLen {
		return &ValidationError{Field: "occasion", Message: "must be at most 100 characters"}
	}
	if q.ShortCode != "" && !shortCodeRe.MatchString(q.ShortCode) {
		return &ValidationError{Field: "shortcode", Message: "must be a 5-9 digit number"}
	}
	return nil
}

type statusQueryPayload struct {
	Initiator                string `json:"Initiator"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	TransactionID            string `json:"TransactionID,omitempty"`
	OriginatorConversationID string `json:"OriginatorConversationID,omitempty"`
	PartyA                   string `json:"PartyA"`
	IdentifierType           string `json:"IdentifierType"`
	ResultURL                string `json:"ResultURL"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	Remarks                  string `json:"Remarks"`
	Occasion                 string `json:"Occasion,omitempty"`
}

// CheckStatus queries the switch for a definitive payment outcome,
// polling while the switch reports the query as still processing. It
// blocks for up to (MaxRetries+1) attempts with RetryDelay between them,
// so call it off any latency-sensitive path; ctx cancels mid-poll.
func (c *Client) CheckStatus(ctx context.Context, query StatusQuery) (*models.NotificationRecord, error) {
	if err := query.validate(); err != nil {
		return nil, err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	credential, err := c.SecurityCredential()
	if err != nil {
		return nil, err
	}

	shortCode := query.ShortCode
	if shortCode == "" {
		shortCode = c.cfg.BusinessShortCode
	}
	remarks := query.Remarks
	if remarks == "" {
		remarks = "Transaction status query"
	}

	payload := statusQueryPayload{
		Initiator:                c.cfg.InitiatorName,
		SecurityCredential:       credential,
		CommandID:                commandTransactionStatus,
		TransactionID:            query.CheckoutRequestID,
		OriginatorConversationID: query.OriginatorConversationID,
		PartyA:                   shortCode,
		IdentifierType:           identifierTypeShortCode,
		ResultURL:                c.cfg.ResultURL,
		QueueTimeOutURL:          c.cfg.QueueTimeoutURL,
		Remarks:                  remarks,
		Occasion:                 query.Occasion,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransactionError{Message: "encode status payload", Err: err}
	}

	attempts := c.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &TransactionError{Message: "status poll cancelled", Err: ctx.Err()}
			case <-c.sleep(c.cfg.RetryDelay):
			}
		}

		result, err := c.sendStatusQuery(ctx, token, body)
		if err != nil {
			return nil, err
		}
		if result.ResultType != nil && *result.ResultType == 0 {
			return parseStatusResult(result), nil
		}
		c.logger.Debug("status query still processing",
			"attempt", attempt,
			"max_attempts", attempts,
		)
	}

	return nil, &TransactionError{
		Message: fmt.Sprintf("status query timed out after %d attempts", attempts),
	}
}

func (c *Client) sendStatusQuery(ctx context.Context, token string, body []byte) (*statusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+txStatusPath, bytes.NewReader(body))
	if err != nil {
		return nil, &TransactionError{Message: "build status request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransactionError{Message: "status request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &TransactionError{Message: "status query rejected", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var envelope struct {
		Result *statusResult `json:"Result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &TransactionError{Message: "invalid status response", Err: err, Body: string(respBody)}
	}
	if envelope.Result == nil {
		// No nested result yet: treat as still processing.
		return &statusResult{}, nil
	}
	return envelope.Result, nil
}
