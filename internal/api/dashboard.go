package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"signaldesk/internal/session"
)

const dateLayout = "2006-01-02"

func (c *Client) Subscription(ctx context.Context) (Subscription, error) {
	return call[Subscription](ctx, c, http.MethodGet, "/subscriptions/current", nil)
}

func (c *Client) Subscribe(ctx context.Context, plan string) (Subscription, error) {
	if plan == "" {
		return Subscription{}, errors.New("plan is required")
	}
	return call[Subscription](ctx, c, http.MethodPost, "/subscriptions", map[string]string{"plan": plan})
}

func (c *Client) ConnectBroker(ctx context.Context, broker string, key BrokerKey) (BrokerConnection, error) {
	if err := c.checkBroker(broker); err != nil {
		return BrokerConnection{}, err
	}
	if key.APIKey == "" || key.APISecret == "" {
		return BrokerConnection{}, errors.New("api key and secret are required")
	}
	return call[BrokerConnection](ctx, c, http.MethodPost, brokerPath(broker, "keys"), key)
}

func (c *Client) Bot(ctx context.Context, broker string) (BotState, error) {
	if err := c.checkBroker(broker); err != nil {
		return BotState{}, err
	}
	return call[BotState](ctx, c, http.MethodGet, brokerPath(broker, "bot"), nil)
}

func (c *Client) SetBot(ctx context.Context, broker string, enabled bool) (BotState, error) {
	if err := c.checkBroker(broker); err != nil {
		return BotState{}, err
	}
	return call[BotState](ctx, c, http.MethodPut, brokerPath(broker, "bot"), map[string]bool{"enabled": enabled})
}

// ProfitHistory returns daily PnL between from and to, both inclusive.
func (c *Client) ProfitHistory(ctx context.Context, broker string, from, to time.Time) ([]ProfitPoint, error) {
	if err := c.checkBroker(broker); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, errors.New("history range ends before it starts")
	}
	query := url.Values{}
	query.Set("from", from.Format(dateLayout))
	query.Set("to", to.Format(dateLayout))
	return call[[]ProfitPoint](ctx, c, http.MethodGet, brokerPath(broker, "pnl")+"?"+query.Encode(), nil)
}

func (c *Client) Stats(ctx context.Context, broker string) (Stats, error) {
	if err := c.checkBroker(broker); err != nil {
		return Stats{}, err
	}
	return call[Stats](ctx, c, http.MethodGet, brokerPath(broker, "stats"), nil)
}

// PollStats fetches stats immediately and then every interval, handing each
// outcome to fn. Transient failures are reported and polling goes on. It
// returns nil once ctx is done, or the error once the session has expired.
func (c *Client) PollStats(ctx context.Context, broker string, interval time.Duration, fn func(Stats, error)) error {
	if err := c.checkBroker(broker); err != nil {
		return err
	}
	if interval <= 0 {
		return errors.New("poll interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats, err := c.Stats(ctx, broker)
		if errors.Is(err, session.ErrSessionExpired) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Debug("stats poll failed", zap.String("broker", broker), zap.Error(err))
		}
		fn(stats, err)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func brokerPath(broker, resource string) string {
	return "/brokers/" + url.PathEscape(broker) + "/" + resource
}
