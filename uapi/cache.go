package uapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Messages reported after successful cache actions.
const (
	MessageCachePurged   = "NGINX Cache has been Purged!"
	MessageCacheEnabled  = "NGINX Cache has been Enabled."
	MessageCacheDisabled = "NGINX Cache has been Disabled."
)

// ClearCache purges the whole NGINX cache of the account.
func (c *Client) ClearCache(ctx context.Context) (Result, error) {
	return c.action(ctx, EndpointClearCache, MessageCachePurged)
}

// EnableCache turns NGINX caching on for the account.
func (c *Client) EnableCache(ctx context.Context) (Result, error) {
	return c.action(ctx, EndpointEnableCache, MessageCacheEnabled)
}

// DisableCache turns NGINX caching off for the account.
func (c *Client) DisableCache(ctx context.Context) (Result, error) {
	return c.action(ctx, EndpointDisableCache, MessageCacheDisabled)
}

func (c *Client) action(ctx context.Context, endpoint, success string) (Result, error) {
	res, err := c.Execute(ctx, endpoint, nil)
	if err != nil {
		return res, err
	}
	res.Message = success
	return res, nil
}

type quotaInfo struct {
	MegabytesUsed *json.Number `json:"megabytes_used"`
}

// TestConnection verifies the credentials by reading the account quota.
func (c *Client) TestConnection(ctx context.Context) (Result, error) {
	res, err := c.Execute(ctx, EndpointQuotaInfo, nil)
	if err != nil {
		return res, err
	}

	var q quotaInfo
	if len(res.Data) > 0 {
		_ = json.Unmarshal(res.Data, &q)
	}
	if q.MegabytesUsed == nil {
		msg := "API appears to have connected, but no data retrieved?"
		return Result{Message: msg, Data: res.Data}, &APIError{StatusCode: 200, Message: msg}
	}

	used, err := q.MegabytesUsed.Float64()
	if err != nil {
		msg := "API appears to have connected, but no data retrieved?"
		return Result{Message: msg, Data: res.Data}, &APIError{StatusCode: 200, Message: msg}
	}

	res.Message = fmt.Sprintf("Saved Config & Tested OK. Disk Usage: %s MB", formatThousands(int64(math.Round(used))))
	return res, nil
}

// formatThousands renders n with comma thousands separators.
func formatThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	var out []byte
	for i, ch := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, ch)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
