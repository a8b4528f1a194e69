package billing

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"cloud-chargeback/pkg/platform"
	"cloud-chargeback/pkg/timeslice"
)

// HTTPSource reads the billing costs API directly, for deployments
// without a ClickHouse export.
type HTTPSource struct {
	BaseURL string
	Client  *platform.HTTPClient
	Headers map[string]string
}

func NewHTTPSource(baseURL, apiKey, apiSecret string, client *platform.HTTPClient) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  client,
		Headers: map[string]string{
			"Authorization": "Basic " + platform.BasicCredential(apiKey, apiSecret),
		},
	}
}

type costsResponse struct {
	Data []struct {
		EnvironmentID string `json:"environment_id"`
		ClusterID     string `json:"resource_id"`
		ClusterName   string `json:"resource_name"`
		ProductName   string `json:"product_name"`
		ProductType   string `json:"line_type"`
		StartDate     string `json:"start_date"`
		EndDate       string `json:"end_date"`
		Amount        string `json:"amount"`
	} `json:"data"`
}

func (s *HTTPSource) Fetch(ctx context.Context, start, end time.Time) ([]LineItem, error) {
	// The costs API takes whole days; fragments outside [start, end) are
	// trimmed after splitting.
	q := url.Values{}
	q.Set("start_date", timeslice.DayOf(start).Format("2006-01-02"))
	q.Set("end_date", timeslice.DayOf(end).Format("2006-01-02"))

	var resp costsResponse
	if err := s.Client.GetJSON(ctx, s.BaseURL+"/costs?"+q.Encode(), s.Headers, &resp); err != nil {
		return nil, err
	}

	var exports []ExportRow
	for _, d := range resp.Data {
		rangeStart, err := time.Parse("2006-01-02", d.StartDate)
		if err != nil {
			return nil, fmt.Errorf("bad start_date %q: %w", d.StartDate, err)
		}
		rangeEnd, err := time.Parse("2006-01-02", d.EndDate)
		if err != nil {
			return nil, fmt.Errorf("bad end_date %q: %w", d.EndDate, err)
		}
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", d.Amount, err)
		}
		exports = append(exports, ExportRow{
			EnvironmentID: d.EnvironmentID,
			ClusterID:     d.ClusterID,
			ClusterName:   d.ClusterName,
			ProductName:   d.ProductName,
			ProductType:   d.ProductType,
			Start:         rangeStart,
			End:           rangeEnd,
			TotalCost:     amount,
		})
	}

	var items []LineItem
	for _, it := range SplitHourlyAll(exports) {
		if it.TimeSlice.Before(start) || !it.TimeSlice.Before(end) {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
