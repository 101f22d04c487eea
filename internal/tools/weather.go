package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"talkops/internal/ai"
	"talkops/internal/config"
	"talkops/internal/logger"
	"talkops/internal/thread"
)

const ToolWeather = "weather"

type weatherData struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
		WindspeedKmph string `json:"windspeedKmph"`
	} `json:"current_condition"`
	Weather []struct {
		Date     string `json:"date"`
		MaxTempC string `json:"maxtempC"`
		MinTempC string `json:"mintempC"`
		Hourly   []struct {
			Time        string `json:"time"`
			TempC       string `json:"tempC"`
			WeatherDesc []struct {
				Value string `json:"value"`
			} `json:"weatherDesc"`
		} `json:"hourly"`
	} `json:"weather"`
}

// WeatherTool answers forecast questions through wttr.in.
type WeatherTool struct {
	httpClient *http.Client
	logger     logger.Logger
}

func NewWeatherTool(httpClient *http.Client, log logger.Logger) *WeatherTool {
	return &WeatherTool{
		httpClient: httpClient,
		logger:     log.WithField("tool", ToolWeather),
	}
}

func (t *WeatherTool) Name() string {
	return ToolWeather
}

func (t *WeatherTool) Call(chatCfg *config.ChatConfig, state *thread.State) Client {
	return &weatherClient{tool: t}
}

func (t *WeatherTool) OptionsString(argsJSON string) string {
	var args struct {
		Location string `json:"location"`
		Days     int    `json:"days"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return argsJSON
	}
	return fmt.Sprintf("%s, %d day(s)", args.Location, args.Days)
}

type weatherClient struct {
	tool *WeatherTool
}

func (c *weatherClient) Functions() map[string]Func {
	return map[string]Func{
		ToolWeather: c.forecast,
	}
}

func (c *weatherClient) Specs() []ai.Tool {
	return []ai.Tool{{
		Type: "function",
		Function: ai.ToolFunction{
			Name:        ToolWeather,
			Description: "Fetches comprehensive weather forecasts",
			Parameters: ai.Parameters{
				Type: "object",
				Properties: map[string]ai.Property{
					"location": {Type: "string", Description: "City name in English (e.g., `London`, `New+York`)"},
					"days":     {Type: "integer", Description: "Number of forecast days (1-3). 1 - Today, 2 - Today and tomorrow, etc."},
				},
				Required: []string{"location", "days"},
			},
		},
	}}
}

func (c *weatherClient) forecast(ctx context.Context, argsJSON string) (*Response, error) {
	var args struct {
		Location string `json:"location"`
		Days     int    `json:"days"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Days < 1 || args.Days > 7 {
		args.Days = 1
	}

	url := fmt.Sprintf("https://wttr.in/%s?format=j1", args.Location)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.tool.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather service unavailable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read weather data: %w", err)
	}

	var data weatherData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse weather data: %w", err)
	}

	result := fmt.Sprintf("Weather forecast for %s:\n", args.Location)
	if len(data.CurrentCondition) > 0 {
		current := data.CurrentCondition[0]
		desc := ""
		if len(current.WeatherDesc) > 0 {
			desc = current.WeatherDesc[0].Value
		}
		result += fmt.Sprintf("\nCurrent: %s°C, %s, wind %s km/h\n",
			current.TempC, desc, current.WindspeedKmph)
	}

	for i := 0; i < args.Days && i < len(data.Weather); i++ {
		day := data.Weather[i]
		date, _ := time.Parse("2006-01-02", day.Date)
		result += fmt.Sprintf("\n%s: %s°C to %s°C\n",
			date.Format("Monday, January 2"), day.MinTempC, day.MaxTempC)
	}

	return &Response{Content: result, Args: args.Location}, nil
}
