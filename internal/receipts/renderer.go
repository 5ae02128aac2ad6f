package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"comercio-service/internal/models"
	"comercio-service/internal/util"

	"go.uber.org/zap"
)

// Renderer asks the document service to produce the PDF for a comprobante
// and returns the URL where it was published. The document service exposes
// rendered receipts at stable paths, so re-rendering the same receipt is
// harmless.
type Renderer struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRenderer creates a renderer talking to the document service at baseURL
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: util.GetLogger(),
	}
}

type renderRequest struct {
	ReceiptID      int64  `json:"receipt_id"`
	OrderID        int64  `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	Type           string `json:"type"`
	Subtotal       string `json:"subtotal"`
	Shipping       string `json:"shipping"`
	Taxes          string `json:"taxes"`
	Total          string `json:"total"`
}

type renderResponse struct {
	URL string `json:"url"`
}

// RenderReceipt submits the receipt for rendering and returns the document URL
func (r *Renderer) RenderReceipt(ctx context.Context, order *models.Order, receipt *models.Receipt) (string, error) {
	ctx, span := util.StartSpan(ctx, "Renderer.RenderReceipt")
	defer span.End()

	body, err := json.Marshal(renderRequest{
		ReceiptID:      receipt.ID,
		OrderID:        order.ID,
		TrackingNumber: order.TrackingNumber,
		Type:           receipt.Type,
		Subtotal:       order.SubtotalProductos.String(),
		Shipping:       order.CostoEnvio.String(),
		Taxes:          order.MontoImpuestos.String(),
		Total:          order.MontoTotal.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode render request: %w", err)
	}

	url := fmt.Sprintf("%s/render", r.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("document service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("document service returned status %d", resp.StatusCode)
	}

	var rendered renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
		return "", fmt.Errorf("failed to decode render response: %w", err)
	}
	if rendered.URL == "" {
		return "", fmt.Errorf("document service returned empty url")
	}

	r.logger.Info("Receipt rendered",
		zap.Int64("receipt_id", receipt.ID),
		zap.String("type", receipt.Type),
		zap.String("url", rendered.URL))

	return rendered.URL, nil
}
