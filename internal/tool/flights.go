package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"omnibot/internal/domain"
)

// FlightLookupTool fetches live flight status by IATA flight number from an
// aviationstack-compatible API.
type FlightLookupTool struct {
	client  *http.Client
	apiBase string
	apiKey  string
}

type FlightLookupConfig struct {
	APIBase string // default: aviationstack
	APIKey  string
}

func NewFlightLookupTool(cfg FlightLookupConfig) *FlightLookupTool {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.aviationstack.com/v1/flights"
	}
	return &FlightLookupTool{
		client:  &http.Client{Timeout: searchTimeout},
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
	}
}

func (t *FlightLookupTool) Name() string { return "flight_lookup" }
func (t *FlightLookupTool) Description() string {
	return "Look up the live status of a flight by its IATA flight number (e.g. BA142)."
}
func (t *FlightLookupTool) SystemPrompt() string { return "" }

func (t *FlightLookupTool) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"flight_number": {Type: "string", Description: "IATA flight number, e.g. \"UA90\" or \"BA142\""},
		},
		[]string{"flight_number"},
	)
}

type flightAPIResponse struct {
	Data []struct {
		FlightStatus string `json:"flight_status"`
		Airline      struct {
			Name string `json:"name"`
		} `json:"airline"`
		Departure flightEndpoint `json:"departure"`
		Arrival   flightEndpoint `json:"arrival"`
	} `json:"data"`
}

type flightEndpoint struct {
	Airport   string `json:"airport"`
	IATA      string `json:"iata"`
	Scheduled string `json:"scheduled"`
	Estimated string `json:"estimated"`
	Delay     int    `json:"delay"`
}

func (t *FlightLookupTool) Execute(ctx context.Context, args map[string]any, chctx *domain.ChannelContext) (any, error) {
	flightNo := strings.ToUpper(strings.TrimSpace(ArgString(args, "flight_number")))
	if flightNo == "" {
		return nil, ErrMissing("flight_number")
	}
	if t.apiKey == "" {
		return nil, fmt.Errorf("flight lookup is not configured (missing API key)")
	}

	endpoint := fmt.Sprintf("%s?access_key=%s&flight_iata=%s",
		t.apiBase, url.QueryEscape(t.apiKey), url.QueryEscape(flightNo))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flight lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flight API status %d", resp.StatusCode)
	}

	var fr flightAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("parse flight response: %w", err)
	}
	if len(fr.Data) == 0 {
		return map[string]any{"found": false, "flight": flightNo}, nil
	}

	f := fr.Data[0]
	return map[string]any{
		"found":   true,
		"flight":  flightNo,
		"airline": f.Airline.Name,
		"status":  f.FlightStatus,
		"departure": map[string]any{
			"airport":   f.Departure.Airport,
			"iata":      f.Departure.IATA,
			"scheduled": f.Departure.Scheduled,
			"estimated": f.Departure.Estimated,
			"delay_min": f.Departure.Delay,
		},
		"arrival": map[string]any{
			"airport":   f.Arrival.Airport,
			"iata":      f.Arrival.IATA,
			"scheduled": f.Arrival.Scheduled,
			"estimated": f.Arrival.Estimated,
			"delay_min": f.Arrival.Delay,
		},
	}, nil
}
