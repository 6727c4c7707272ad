package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/logging"
	"github.com/austindbirch/activitylogger/internal/metrics"
)

type nsqStats struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Depth    int64  `json:"depth"`
		Channels []struct {
			Name     string `json:"channel_name"`
			Depth    int64  `json:"depth"`
			Deferred int64  `json:"deferred_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// nsqdHTTPAddr maps the nsqd TCP address to its HTTP port (4151).
func nsqdHTTPAddr(tcpAddr string) string {
	host, _, err := net.SplitHostPort(tcpAddr)
	if err != nil {
		host = tcpAddr
	}
	return net.JoinHostPort(host, "4151")
}

// pollBacklog reads nsqd stats once and returns the lane backlog for channel,
// counting ready and deferred messages.
func pollBacklog(ctx context.Context, client *http.Client, statsURL, topic, channel string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statsURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("nsq stats returned status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("decode nsq stats: %w", err)
	}
	for _, t := range stats.Topics {
		if t.Name != topic {
			continue
		}
		for _, c := range t.Channels {
			if c.Name == channel {
				return c.Depth + c.Deferred, nil
			}
		}
		// No consumer channel yet: everything sits on the topic.
		return t.Depth, nil
	}
	return 0, nil
}

// startBacklogMonitor periodically updates the lane backlog gauge from nsqd stats.
func startBacklogMonitor(ctx context.Context, cfg config.NSQ, lane string, every time.Duration, logger *logging.Logger) {
	channel := cfg.Channel
	if channel == "" {
		channel = "workers"
	}
	statsURL := fmt.Sprintf("http://%s/stats?format=json&topic=%s", nsqdHTTPAddr(cfg.NsqdTCPAddr), lane)
	client := &http.Client{Timeout: 5 * time.Second}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			depth, err := pollBacklog(ctx, client, statsURL, lane, channel)
			if err != nil {
				logger.Plain().WithLane(config.ConnectionNSQ, lane).WithError(err).Warnf("nsqd stats for lane %s unavailable", lane)
				continue
			}
			logger.Plain().WithLane(config.ConnectionNSQ, lane).Debugf("lane backlog %d on channel %s", depth, channel)
			metrics.UpdateLaneBacklog(config.ConnectionNSQ, lane, float64(depth))
		}
	}()
}
