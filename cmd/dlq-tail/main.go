package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/fieldsync/internal/config"
	"github.com/austindbirch/fieldsync/internal/deadletter"
	"github.com/austindbirch/fieldsync/internal/logging"
	"github.com/austindbirch/fieldsync/internal/tracing"
)

// NSQStats is the part of the nsqd /stats payload we read.
type NSQStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

var (
	deadLettersReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldsync_dlq_tail_received_total",
		Help: "Dead letters consumed from the DLQ topic by reason",
	}, []string{"reason"})

	badMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldsync_dlq_tail_bad_messages_total",
		Help: "DLQ messages that could not be decoded",
	})

	topicDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldsync_dlq_topic_depth",
		Help: "Messages waiting on the DLQ topic",
	})
)

func init() {
	prometheus.MustRegister(deadLettersReceived)
	prometheus.MustRegister(badMessages)
	prometheus.MustRegister(topicDepth)
}

type tail struct {
	logger *logging.Logger
}

// handle logs one dead letter. Undecodable messages are counted and dropped so
// they are not redelivered forever.
func (t *tail) handle(body []byte) error {
	var dl deadletter.DeadLetter
	if err := json.Unmarshal(body, &dl); err != nil || dl.Type != deadletter.Type {
		badMessages.Inc()
		t.logger.Plain().WithError(err).WithField("bytes", len(body)).Warn("skipping message that is not a dead letter")
		return nil
	}

	ctx := tracing.ExtractMap(context.Background(), dl.TraceHeaders)
	deadLettersReceived.WithLabelValues(reasonLabel(dl.Reason)).Inc()
	t.logger.WithContext(ctx).
		WithAction(dl.Action.ID).
		WithRequest(dl.Action.Method(), dl.Action.Endpoint).
		WithFields(map[string]any{
			"reason":      dl.Reason,
			"attempt":     dl.Attempt,
			"http_status": dl.HTTPStatus,
			"last_error":  dl.LastError,
			"at":          dl.At,
			"body":        dl.Action.Options.Body,
		}).
		Info("dead letter")
	return nil
}

// reasonLabel keeps the reason label bounded; status codes become a family.
func reasonLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "permanent rejection"):
		return "permanent_rejection"
	case reason == "max attempts exceeded":
		return "max_attempts"
	case reason == "":
		return "unknown"
	}
	return "other"
}

func updateTopicDepth(nsqdHTTP, topic string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/stats?format=json&topic=%s", nsqdHTTP, topic))
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()

	var stats NSQStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}
	for _, t := range stats.Topics {
		if t.TopicName == topic {
			topicDepth.Set(float64(t.Depth))
		}
	}
	return nil
}

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := logging.New("fieldsync-dlq-tail")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	conf := nsq.NewConfig()
	conf.MaxInFlight = 10
	consumer, err := nsq.NewConsumer(cfg.NSQ.DLQTopic, cfg.NSQ.DLQChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)

	t := &tail{logger: logger}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		return t.handle(m.Body)
	}))

	if cfg.NSQ.NsqdTCPAddr != "" {
		err = consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr)
	} else {
		err = consumer.ConnectToNSQLookupd(strings.TrimPrefix(cfg.NSQ.LookupHTTPAddr, "http://"))
	}
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq connect failed")
	}

	if cfg.NSQ.NsqdTCPAddr != "" {
		nsqdHTTP := strings.Replace(cfg.NSQ.NsqdTCPAddr, ":4150", ":4151", 1)
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := updateTopicDepth(nsqdHTTP, cfg.NSQ.DLQTopic); err != nil {
						logger.Plain().WithError(err).Debug("dlq depth poll failed")
					}
				}
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", cfg.HTTPPort).WithField("topic", cfg.NSQ.DLQTopic).Info("dlq-tail listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("dlq-tail HTTP server failed")
		}
	}()

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("dlq-tail stopped")
}
