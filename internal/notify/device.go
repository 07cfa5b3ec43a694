// Package notify delivers intake reminders through the patient's device
// notification gateway and keeps the gateway's scheduled handles consistent
// with the intake ledger.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medtrack/go-intake/pkg/circuitbreaker"
)

// Payload is the reminder content handed to the device gateway.
type Payload struct {
	IntakeLogID  string `json:"intake_log_id"`
	PatientID    string `json:"patient_id"`
	MedicineName string `json:"medicine_name"`
	SlotLabel    string `json:"slot_label"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	ChannelID    string `json:"channel_id"`
}

// DeviceGateway schedules and cancels OS-level reminder notifications on
// the patient's device. Handles are borrowed: the OS may revoke them
// without telling us, which is why the reconciler exists.
type DeviceGateway interface {
	// Schedule registers a notification to fire at the given time and
	// returns the gateway's handle for it.
	Schedule(ctx context.Context, at time.Time, payload Payload) (string, error)
	// Cancel revokes a previously scheduled notification. Cancelling an
	// unknown handle is not an error.
	Cancel(ctx context.Context, handle string) error
	// LiveHandles returns the handles the gateway currently has scheduled
	// for a patient.
	LiveHandles(ctx context.Context, patientID string) ([]string, error)
	// EnsureChannel creates the notification channel if it does not exist.
	// Safe to call on every startup.
	EnsureChannel(ctx context.Context, channelID string) error
}

// ChannelMedications is the notification channel all intake reminders
// are delivered on.
const ChannelMedications = "medications"

// HTTPGateway talks to the device notification gateway over its REST API,
// with a circuit breaker guarding against a flapping gateway.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// HTTPGatewayConfig holds device gateway client configuration.
type HTTPGatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPGateway creates a gateway client for the given base URL.
func NewHTTPGateway(cfg HTTPGatewayConfig, logger *zap.Logger) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("device gateway base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("device-gateway"), logger)
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

type scheduleRequest struct {
	FireAt  time.Time `json:"fire_at"`
	Payload Payload   `json:"payload"`
}

type scheduleResponse struct {
	Handle string `json:"handle"`
}

// Schedule registers a notification with the gateway.
func (g *HTTPGateway) Schedule(ctx context.Context, at time.Time, payload Payload) (string, error) {
	body, err := json.Marshal(scheduleRequest{FireAt: at.UTC(), Payload: payload})
	if err != nil {
		return "", fmt.Errorf("marshal schedule request: %w", err)
	}

	result, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		var resp scheduleResponse
		if err := g.doJSON(ctx, http.MethodPost, "/v1/notifications", body, &resp); err != nil {
			return nil, err
		}
		return resp.Handle, nil
	})
	if err != nil {
		return "", fmt.Errorf("schedule notification: %w", err)
	}
	return result.(string), nil
}

// Cancel revokes a scheduled notification. A 404 from the gateway means
// the handle was already gone, which is fine.
func (g *HTTPGateway) Cancel(ctx context.Context, handle string) error {
	_, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
			g.baseURL+"/v1/notifications/"+handle, nil)
		if err != nil {
			return nil, err
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("cancel notification %s: %w", handle, err)
	}
	return nil
}

type liveHandlesResponse struct {
	Handles []string `json:"handles"`
}

// LiveHandles lists the handles currently scheduled for a patient.
func (g *HTTPGateway) LiveHandles(ctx context.Context, patientID string) ([]string, error) {
	result, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		var resp liveHandlesResponse
		path := "/v1/notifications?patient_id=" + patientID
		if err := g.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		return resp.Handles, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list live handles: %w", err)
	}
	return result.([]string), nil
}

// EnsureChannel creates the notification channel idempotently. The
// gateway returns 409 when the channel already exists.
func (g *HTTPGateway) EnsureChannel(ctx context.Context, channelID string) error {
	body, err := json.Marshal(map[string]string{"channel_id": channelID})
	if err != nil {
		return err
	}

	_, err = g.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.baseURL+"/v1/channels", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("ensure channel %s: %w", channelID, err)
	}
	return nil
}

// IsOpen reports whether the gateway circuit breaker is open.
func (g *HTTPGateway) IsOpen() bool {
	return g.breaker.IsOpen()
}

func (g *HTTPGateway) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
