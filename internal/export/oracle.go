package export

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"cloud-chargeback/pkg/platform"
	"cloud-chargeback/pkg/timeslice"
)

// PromOracle answers publication-status queries by asking the metric
// backend for a marker sample at the exact hour. A marker present means
// the hour was already computed and published by a previous cycle,
// possibly by a previous process.
type PromOracle struct {
	BaseURL string
	Metric  string
	Client  *platform.HTTPClient
}

func NewPromOracle(baseURL string, client *platform.HTTPClient) *PromOracle {
	return &PromOracle{
		BaseURL: baseURL,
		Metric:  PublishedMetricName,
		Client:  client,
	}
}

type promQueryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Value [2]interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// IsPublished reports whether the marker exists at the hour. An
// instant query echoes the evaluation time in the result, so the query
// wraps the marker in timestamp(), whose value is the underlying
// sample's own timestamp. Only a sample stamped at exactly the queried
// hour counts; a lookback hit from an earlier hour carries an earlier
// timestamp and is rejected.
func (o *PromOracle) IsPublished(ctx context.Context, slice time.Time) (bool, error) {
	slice = timeslice.HourOf(slice)

	q := url.Values{}
	q.Set("query", fmt.Sprintf("timestamp(%s)", o.Metric))
	q.Set("time", strconv.FormatInt(slice.Unix(), 10))

	var resp promQueryResponse
	if err := o.Client.GetJSON(ctx, o.BaseURL+"/api/v1/query?"+q.Encode(), nil, &resp); err != nil {
		return false, err
	}
	if resp.Status != "success" {
		return false, nil
	}

	for _, r := range resp.Data.Result {
		v, ok := r.Value[1].(string)
		if !ok {
			continue
		}
		ts, err := strconv.ParseFloat(v, 64)
		if err == nil && int64(ts) == slice.Unix() {
			return true, nil
		}
	}
	return false, nil
}
