package geolocation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ashishkrishna888/Airlytics/internal/models"
)

// DefaultIPLocatorURL is the ip-api.com JSON endpoint.
const DefaultIPLocatorURL = "http://ip-api.com"

const ipFields = "status,message,lat,lon,city,countryCode,query"

type clientIPKey struct{}

// WithClientIP returns ctx carrying the address to locate. Without it the
// locator resolves the server's own address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	City        string  `json:"city"`
	CountryCode string  `json:"countryCode"`
	Query       string  `json:"query"`
}

// IPLocator approximates a position from an IP address. Accuracy is city
// level, so highAccuracy is ignored.
type IPLocator struct {
	client *resty.Client
}

// NewIPLocator creates an IPLocator against baseURL (DefaultIPLocatorURL if empty).
func NewIPLocator(baseURL string, timeout time.Duration) *IPLocator {
	if baseURL == "" {
		baseURL = DefaultIPLocatorURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &IPLocator{client: client}
}

func (l *IPLocator) Locate(ctx context.Context, highAccuracy bool) (Position, error) {
	var out ipAPIResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetQueryParam("fields", ipFields).
		SetPathParam("ip", clientIP(ctx)).
		SetResult(&out).
		Get("/json/{ip}")
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}
	switch {
	case resp.StatusCode() == http.StatusForbidden:
		return Position{}, ErrPermissionDenied
	case resp.IsError():
		return Position{}, fmt.Errorf("%w: locator returned %d", ErrPositionUnavailable, resp.StatusCode())
	case out.Status != "success":
		return Position{}, fmt.Errorf("%w: %s", ErrPositionUnavailable, out.Message)
	}
	return Position{
		Coordinates: models.Coordinates{Lat: out.Lat, Lon: out.Lon},
		Source:      "ip",
	}, nil
}
