// dlq-reprocess переигрывает записи DLQ в исходные топики. По умолчанию
// работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
)

const headerReplayedFrom = "x-replayed-from"

type options struct {
	brokers []string
	source  string
	// target переопределяет маршрутизацию; пусто означает исходный топик
	// записи или топик по типу агрегата.
	target     string
	eventTypes map[string]struct{}
	limit      int
	execute    bool
	fromNewest bool
	idle       time.Duration
}

func (o options) accepts(eventType string) bool {
	if len(o.eventTypes) == 0 {
		return true
	}
	_, ok := o.eventTypes[eventType]
	return ok
}

func (o options) mode() string {
	if o.execute {
		return "execute"
	}
	return "dry-run"
}

func parseArgs(args []string, getenv func(string) string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		opts       options
		brokers    string
		eventTypes string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $KAFKA_BROKERS)")
	fs.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.target, "target-topic", "", "replay everything into this topic instead of routing")
	fs.StringVar(&eventTypes, "event-types", "", "comma-separated event types to replay, e.g. OrderCreated,ProductPriceChanged")
	fs.IntVar(&opts.limit, "limit", 100, "max records to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish replays instead of a dry run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest records of each partition")
	fs.DurationVar(&opts.idle, "idle-timeout", 2*time.Second, "stop reading a partition after this long without records")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("KAFKA_BROKERS")
	}
	opts.brokers = splitList(brokers)
	opts.source = strings.TrimSpace(opts.source)
	opts.target = strings.TrimSpace(opts.target)

	switch {
	case len(opts.brokers) == 0:
		return options{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case opts.source == "":
		return options{}, errors.New("source-topic is required")
	case opts.target == opts.source:
		return options{}, errors.New("target-topic must differ from source-topic")
	case opts.limit <= 0:
		return options{}, errors.New("limit must be positive")
	case opts.idle <= 0:
		return options{}, errors.New("idle-timeout must be positive")
	}

	if types := splitList(eventTypes); len(types) > 0 {
		opts.eventTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			opts.eventTypes[t] = struct{}{}
		}
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// saramaConsumer сужает sarama.PartitionConsumer до partitionConsumer.
type saramaConsumer struct{ sarama.Consumer }

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

// connections держит всё, что открыл connect; закрывается в обратном порядке.
type connections struct {
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
}

func (c connections) Close() {
	if c.producer != nil {
		_ = c.producer.Close()
	}
	if c.consumer != nil {
		_ = c.consumer.Close()
	}
	if c.client != nil {
		_ = c.client.Close()
	}
}

var connect = func(opts options) (connections, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "dlq-reprocess"
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return connections{}, fmt.Errorf("kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return connections{}, fmt.Errorf("kafka consumer: %w", err)
	}
	conns := connections{client: client, consumer: saramaConsumer{consumer}}
	if !opts.execute {
		return conns, nil
	}

	producer, err := sarama.NewSyncProducer(opts.brokers, kafka.SyncProducerConfig("dlq-reprocess"))
	if err != nil {
		conns.Close()
		return connections{}, fmt.Errorf("kafka producer: %w", err)
	}
	conns.producer = producer
	return conns, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseArgs(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fail("dlq replay: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	conns, err := connect(opts)
	if err != nil {
		return err
	}
	defer conns.Close()

	r := &replayer{opts: opts, conns: conns, logger: log.WithField("source_topic", opts.source)}
	stats, err := r.run(ctx)
	if err != nil {
		return err
	}

	fields := log.Fields{
		"mode":     opts.mode(),
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
	}
	for topic, n := range stats.topics {
		fields["to_"+topic] = n
	}
	log.WithFields(fields).Info("dlq replay finished")
	return nil
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
	topics   map[string]int
}

func (s *replayStats) merge(other replayStats) {
	s.scanned += other.scanned
	s.skipped += other.skipped
	for topic, n := range other.topics {
		s.replayedTo(topic, n)
	}
}

func (s *replayStats) replayedTo(topic string, n int) {
	if s.topics == nil {
		s.topics = make(map[string]int)
	}
	s.topics[topic] += n
	s.replayed += n
}

type replayer struct {
	opts   options
	conns  connections
	logger *log.Entry
}

// run обходит партиции по возрастанию номера, пока не исчерпан limit.
func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.conns.client == nil || r.conns.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.execute && r.conns.producer == nil {
		return total, errors.New("execute mode requires a producer")
	}

	partitions, err := r.conns.client.Partitions(r.opts.source)
	if err != nil {
		return total, fmt.Errorf("partitions of %s: %w", r.opts.source, err)
	}
	slices.Sort(partitions)

	for _, p := range partitions {
		budget := r.opts.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.partition(ctx, p, budget)
		total.merge(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// partition читает не больше budget записей из диапазона, существовавшего на
// момент старта; новые записи DLQ не трогаются.
func (r *replayer) partition(ctx context.Context, p int32, budget int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.conns.client.GetOffset(r.opts.source, p, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", p, err)
	}
	end, err := r.conns.client.GetOffset(r.opts.source, p, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", p, err)
	}
	if end <= oldest {
		return stats, nil
	}
	start := oldest
	if r.opts.fromNewest {
		start = max(end-int64(budget), oldest)
	}

	pc, err := r.conns.consumer.ConsumePartition(r.opts.source, p, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", p, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idle)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", p, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.opts.idle)
			stats.scanned++

			if err := r.replay(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) replay(msg *sarama.ConsumerMessage, stats *replayStats) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	rm, err := decodeDeadLetter(msg, r.opts.target)
	if err != nil {
		stats.skipped++
		if !errors.Is(err, errNotDeadLetter) {
			entry.WithError(err).Warn("skip malformed dlq record")
		}
		return nil
	}
	if !r.opts.accepts(rm.eventType) {
		stats.skipped++
		return nil
	}

	entry = entry.WithFields(log.Fields{"target_topic": rm.topic, "event_type": rm.eventType, "key": rm.key})
	if !r.opts.execute {
		entry.Info("dlq replay candidate")
		stats.replayedTo(rm.topic, 1)
		return nil
	}

	from := fmt.Sprintf("%s/%d/%d", r.opts.source, msg.Partition, msg.Offset)
	if err := publishReplay(r.conns.producer, rm, from); err != nil {
		return fmt.Errorf("replay %s: %w", from, err)
	}
	entry.Debug("dlq record replayed")
	stats.replayedTo(rm.topic, 1)
	return nil
}

func publishReplay(producer replayProducer, rm replayMessage, from string) error {
	if producer == nil {
		return errors.New("producer is nil")
	}

	headers := []sarama.RecordHeader{{Key: []byte(headerReplayedFrom), Value: []byte(from)}}
	if rm.eventType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte(rm.eventType)})
	}
	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     rm.topic,
		Key:       sarama.StringEncoder(rm.key),
		Value:     sarama.ByteEncoder(rm.value),
		Headers:   headers,
		Timestamp: time.Now().UTC(),
	})
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
