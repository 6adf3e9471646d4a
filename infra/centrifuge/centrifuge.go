// Package centrifuge pushes live bars to browsers through a Centrifugo
// server.
package centrifuge

import (
	"context"
	"time"

	"github.com/centrifugal/gocent/v3"
	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"

	"bitbucket.org/novatechnologies/datafeed/infra"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
)

type MessageData struct {
	Channel string `json:"channel"`
	Data    string `json:"data"`
}

type Centrifuge interface {
	Publish(ctx context.Context, message MessageData) error
	BatchPublish(ctx context.Context, messages []MessageData) error
}

type centrifuge struct {
	Client *gocent.Client
}

func New(cfg infra.CentrifugeConfig) Centrifuge {
	return &centrifuge{
		Client: gocent.New(gocent.Config{
			Addr: "http://" + cfg.Host + "/api",
			Key:  cfg.Token,
		}),
	}
}

func (c centrifuge) Publish(ctx context.Context, message MessageData) error {
	log := logger.FromContext(ctx).WithField("channel", message.Channel)
	result, err := c.Client.Publish(ctx, message.Channel, []byte(message.Data))
	if err != nil {
		return errors.Wrapf(err, "can't publish into %s", message.Channel)
	}
	log.Tracef(
		"[Centrifuge.Publish] Published, stream position {offset: %d, epoch: %s}.",
		result.Offset, result.Epoch,
	)
	return nil
}

// BatchPublish sends all messages in one HTTP request.
func (c centrifuge) BatchPublish(ctx context.Context, messages []MessageData) error {
	if len(messages) == 0 {
		return nil
	}
	pipe := c.Client.Pipe()
	for _, message := range messages {
		if err := pipe.AddPublish(message.Channel, []byte(message.Data)); err != nil {
			return errors.Wrapf(err, "can't add %s to pipe", message.Channel)
		}
	}
	replies, err := c.Client.SendPipe(ctx, pipe)
	if err != nil {
		return errors.Wrap(err, "can't send pipe")
	}
	for i, reply := range replies {
		if reply.Error != nil {
			return errors.Errorf("pipe reply %d: %v", i, reply.Error)
		}
	}
	logger.FromContext(ctx).WithFields(nil).Tracef("[Centrifuge.BatchPublish] Sent %d publish commands.", len(replies))
	return nil
}

var ErrNoTokenSecret = errors.New("token secret is not configured")

// ConnectionToken signs a Centrifugo connection token for user.
func ConnectionToken(secret, user string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrNoTokenSecret
	}
	claims := jwt.StandardClaims{
		Subject:  user,
		IssuedAt: now.Unix(),
	}
	if ttl > 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "can't sign token")
	}
	return token, nil
}
