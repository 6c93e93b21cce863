package twilio

import (
	"context"
	"fmt"
	"time"

	twiliogo "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/acme/ivr-balance-checker/internal/telephony"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

// callAPI is the slice of the Twilio REST service the client uses.
type callAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// Client places calls through the Twilio Programmable Voice REST API.
type Client struct {
	api callAPI
}

// New creates a client from account credentials.
func New(accountSID, authToken string) *Client {
	rest := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api}
}

// PlaceCall creates the outbound call.
func (c *Client) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallHandle, error) {
	if err := ctx.Err(); err != nil {
		return telephony.CallHandle{}, fmt.Errorf("twilio: create call: %w: %w", apperrors.ErrInitiation, err)
	}

	params := &openapi.CreateCallParams{}
	params.SetFrom(req.From)
	params.SetTo(req.To)
	params.SetUrl(req.URL)
	params.SetMethod("POST")
	if req.StatusCallback != "" {
		params.SetStatusCallback(req.StatusCallback)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent([]string{"completed"})
	}
	if req.Timeout > 0 {
		params.SetTimeout(int(req.Timeout / time.Second))
	}

	call, err := c.api.CreateCall(params)
	if err != nil {
		return telephony.CallHandle{}, fmt.Errorf("twilio: create call: %w: %w", apperrors.ErrInitiation, err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return telephony.CallHandle{}, fmt.Errorf("twilio: create call: %w: empty sid", apperrors.ErrInitiation)
	}

	return telephony.CallHandle{ID: *call.Sid}, nil
}

// Hangup ends a live call.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.api.UpdateCall(callID, params); err != nil {
		return fmt.Errorf("twilio: hangup %s: %w", callID, err)
	}
	return nil
}
