package event

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	jsoniter "github.com/json-iterator/go"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type channelService struct {
	pubSub   *gochannel.GoChannel
	handler  jsoniter.API
	buffer   int64
	logger   *zap.Logger
	handlers cmap.ConcurrentMap
}

// NewService returns an in-process Service on a watermill go channel.
func NewService(opts ...Option) Service {
	o := &option{
		handler: jsoniter.ConfigCompatibleWithStandardLibrary,
		buffer:  64,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &channelService{
		pubSub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: o.buffer},
			&zapAdapter{logger: o.logger}),
		handler:  o.handler,
		buffer:   o.buffer,
		logger:   o.logger,
		handlers: cmap.New(),
	}
}

func (c *channelService) HasHandlers(t Type) bool {
	v, ok := c.handlers.Get(string(t))
	return ok && v.(int) > 0
}

func (c *channelService) Fire(ctx context.Context, e *Event) error {
	if !c.HasHandlers(e.Type) {
		return nil
	}
	data, err := c.handler.Marshal(e)
	if err != nil {
		return errors.WithStack(err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	return errors.WithStack(c.pubSub.Publish(string(e.Type), msg))
}

func (c *channelService) Subscribe(ctx context.Context, t Type) (<-chan *Event, error) {
	messages, err := c.pubSub.Subscribe(ctx, string(t))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.count(t, 1)
	out := make(chan *Event, c.buffer)
	go func() {
		defer close(out)
		defer c.count(t, -1)
		for msg := range messages {
			var e Event
			if err := c.handler.Unmarshal(msg.Payload, &e); err != nil {
				c.logger.Error("decode event failed", zap.String("uuid", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			select {
			case out <- &e:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (c *channelService) count(t Type, delta int) {
	c.handlers.Upsert(string(t), delta, func(exist bool, valueInMap interface{}, newValue interface{}) interface{} {
		if !exist {
			return newValue
		}
		return valueInMap.(int) + newValue.(int)
	})
}

func (c *channelService) Close() error {
	return c.pubSub.Close()
}

// zapAdapter 将watermill日志输出到zap
type zapAdapter struct {
	logger *zap.Logger
}

func (z *zapAdapter) fields(fields watermill.LogFields) []zap.Field {
	list := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		list = append(list, zap.Any(k, v))
	}
	return list
}

func (z *zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	z.logger.Error(msg, append(z.fields(fields), zap.Error(err))...)
}

func (z *zapAdapter) Info(msg string, fields watermill.LogFields) {
	z.logger.Info(msg, z.fields(fields)...)
}

func (z *zapAdapter) Debug(msg string, fields watermill.LogFields) {
	z.logger.Debug(msg, z.fields(fields)...)
}

func (z *zapAdapter) Trace(msg string, fields watermill.LogFields) {
	z.logger.Debug(msg, z.fields(fields)...)
}

func (z *zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapAdapter{logger: z.logger.With(z.fields(fields)...)}
}
