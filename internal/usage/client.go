package usage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"cloud-chargeback/pkg/platform"
)

// TelemetryClient queries the metrics API for hourly per-principal
// usage aggregates.
type TelemetryClient struct {
	BaseURL string
	Client  *platform.HTTPClient
	Headers map[string]string
	Metrics []string
}

func NewTelemetryClient(baseURL, apiKey, apiSecret string, client *platform.HTTPClient) *TelemetryClient {
	return &TelemetryClient{
		BaseURL: baseURL,
		Client:  client,
		Headers: map[string]string{
			"Authorization": "Basic " + platform.BasicCredential(apiKey, apiSecret),
		},
		Metrics: []string{MetricRequestBytes, MetricResponseBytes},
	}
}

type telemetryResponse struct {
	Data []struct {
		Timestamp   time.Time `json:"timestamp"`
		ClusterID   string    `json:"cluster_id"`
		PrincipalID string    `json:"principal_id"`
		Metric      string    `json:"metric"`
		Value       string    `json:"value"`
	} `json:"data"`
}

func (c *TelemetryClient) Fetch(ctx context.Context, start, end time.Time) ([]Sample, error) {
	var samples []Sample
	for _, metric := range c.Metrics {
		q := url.Values{}
		q.Set("metric", metric)
		q.Set("granularity", "PT1H")
		q.Set("from", start.UTC().Format(time.RFC3339))
		q.Set("to", end.UTC().Format(time.RFC3339))

		var resp telemetryResponse
		if err := c.Client.GetJSON(ctx, c.BaseURL+"/query?"+q.Encode(), c.Headers, &resp); err != nil {
			return nil, err
		}
		for _, d := range resp.Data {
			v, err := decimal.NewFromString(d.Value)
			if err != nil {
				return nil, fmt.Errorf("bad sample value %q: %w", d.Value, err)
			}
			samples = append(samples, Sample{
				TimeSlice:   d.Timestamp,
				ClusterID:   d.ClusterID,
				PrincipalID: d.PrincipalID,
				Metric:      d.Metric,
				Value:       v,
			})
		}
	}
	return samples, nil
}
