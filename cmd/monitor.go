package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/webitel/im-relay-service/internal/domain/model"
)

const statsPath = "/debug/stats"

type statsClient struct {
	url  string
	http *http.Client
}

func newStatsClient(addr string, timeout time.Duration) *statsClient {
	return &statsClient{
		url:  strings.TrimRight(addr, "/") + statsPath,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *statsClient) Fetch(ctx context.Context) (model.HubStats, error) {
	var st model.HubStats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return st, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("%s: unexpected status %s", c.url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("%s: decode stats: %w", c.url, err)
	}
	return st, nil
}

// statsRows renders a snapshot as table rows. On error the last good
// values stay visible under an error line.
func statsRows(st model.HubStats, err error) [][]string {
	rows := [][]string{
		{"metric", "value"},
		{"online users", strconv.Itoa(st.OnlineUsers)},
		{"pending messages", strconv.Itoa(st.PendingMessages)},
		{"retry tasks", strconv.FormatInt(st.InFlightTasks, 10)},
		{"uptime", st.Uptime.Truncate(time.Second).String()},
	}
	if err != nil {
		rows = append(rows, []string{"error", err.Error()})
	}
	return rows
}

func runMonitor(ctx context.Context, addr string, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	client := newStatsClient(addr, interval)

	if err := ui.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = fmt.Sprintf(" %s  %s  (q to quit) ", ServiceName, addr)
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.SetRect(0, 0, 72, 9)

	var last model.HubStats
	refresh := func() {
		st, err := client.Fetch(ctx)
		if err == nil {
			last = st
		}
		table.Rows = statsRows(last, err)
		ui.Render(table)
	}
	refresh()

	events := ui.PollEvents()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Render(table)
			}
		case <-ticker.C:
			refresh()
		}
	}
}
