package telephony

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"voicecampaign_backend/platform/config"
)

// VoicePath is the webhook endpoint the provider drives the conversation
// through; EventsPath receives call-progress status callbacks.
const (
	VoicePath  = "/webhooks/telephony/voice"
	EventsPath = "/webhooks/telephony/events"
)

// StartCallParams identifies the attempt being dialed. The correlation
// ids ride along in the callback URLs so every webhook can find its
// attempt without provider-side state.
type StartCallParams struct {
	To         string
	CallID     uuid.UUID
	CampaignID uuid.UUID
	ContactID  uuid.UUID
	Language   string
}

// Initiator starts outbound calls. The dialer depends on this interface;
// tests substitute a fake.
type Initiator interface {
	StartCall(ctx context.Context, params StartCallParams) (providerCallID string, err error)
}

// TwilioInitiator implements Initiator on the Twilio voice API.
type TwilioInitiator struct {
	client  *twilio.RestClient
	from    string
	baseURL string
	timeout int
}

// NewTwilioInitiator constructs the production initiator.
func NewTwilioInitiator(cfg config.TelephonyConfig) *TwilioInitiator {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.GetTwilioAccountSID(),
		Password: cfg.GetTwilioAuthToken(),
	})
	return &TwilioInitiator{
		client:  client,
		from:    cfg.GetOutboundNumber(),
		baseURL: cfg.GetPublicBaseURL(),
		timeout: int(cfg.GetCallTimeout().Seconds()),
	}
}

// StartCall places the call. The voice URL enters the webhook protocol in
// entry mode; the status callback reports call progress on EventsPath.
func (t *TwilioInitiator) StartCall(ctx context.Context, params StartCallParams) (string, error) {
	voiceURL := CallbackURL(t.baseURL, VoicePath, map[string]string{
		"mode":        "entry",
		"call_id":     params.CallID.String(),
		"campaign_id": params.CampaignID.String(),
		"contact_id":  params.ContactID.String(),
		"language":    params.Language,
	})
	statusURL := CallbackURL(t.baseURL, EventsPath, map[string]string{
		"call_id":     params.CallID.String(),
		"campaign_id": params.CampaignID.String(),
		"contact_id":  params.ContactID.String(),
	})

	createParams := &twilioApi.CreateCallParams{}
	createParams.SetTo(params.To)
	createParams.SetFrom(t.from)
	createParams.SetUrl(voiceURL)
	createParams.SetMethod("POST")
	createParams.SetStatusCallback(statusURL)
	createParams.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	createParams.SetTimeout(t.timeout)

	resp, err := t.client.Api.CreateCall(createParams)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	if resp.Sid == nil || *resp.Sid == "" {
		return "", fmt.Errorf("create call: provider returned no call sid")
	}
	return *resp.Sid, nil
}

// CallbackURL builds an absolute webhook URL with the given query
// parameters. Empty values are omitted.
func CallbackURL(baseURL, path string, params map[string]string) string {
	values := url.Values{}
	for key, value := range params {
		if value != "" {
			values.Set(key, value)
		}
	}
	if len(values) == 0 {
		return baseURL + path
	}
	return baseURL + path + "?" + values.Encode()
}
