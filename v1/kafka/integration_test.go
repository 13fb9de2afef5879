package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// TestKafkaRunDelivery publishes a run tree through a real broker and
// rebuilds it on the consumer side.
func TestKafkaRunDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	broker, containerInstance := initializeKafka(ctx, t)
	defer func() {
		if err := containerInstance.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	const topic = "runs"
	createTopic(t, broker, topic)

	var producer *KafkaClient
	var sink *RunSink
	app := fx.New(
		FXModule,
		fx.Provide(func() Config {
			return Config{Brokers: []string{broker}, Topic: topic}
		}),
		fx.Populate(&producer, &sink),
		fx.NopLogger,
	)
	require.NoError(t, app.Start(ctx))
	defer app.Stop(ctx)

	tree, err := runtree.NewRoot("batch", runtree.RunTypeChain, runtree.Payload{}, runtree.WithSink(sink))
	require.NoError(t, err)
	root := tree.Root()
	for i := 0; i < 5; i++ {
		child, err := root.CreateChild(fmt.Sprintf("item-%d", i), runtree.RunTypeTool, runtree.Payload{})
		require.NoError(t, err)
		require.NoError(t, child.End(runtree.Payload{}))
	}
	require.NoError(t, root.End(runtree.Payload{}))
	require.NoError(t, tree.Flush(ctx))

	consumer, err := NewClient(Config{
		Brokers:    []string{broker},
		Topic:      topic,
		GroupID:    "collector",
		IsConsumer: true,
	})
	require.NoError(t, err)
	defer consumer.GracefulShutdown()

	collector := ingest.NewMemoryCollector()
	collectCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Collect(collectCtx, collector) }()

	require.Eventually(t, func() bool {
		rec, ok := collector.Record(root.ID())
		return ok && rec.Ended() && collector.Len() == 6
	}, 60*time.Second, 200*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	trees := collector.Trees()
	require.Len(t, trees, 1)
	assert.Len(t, trees[0].Children, 5)
	assert.Equal(t, "item-0", trees[0].Children[0].Record.Name)
	assert.Equal(t, "item-4", trees[0].Children[4].Record.Name)
}

func initializeKafka(ctx context.Context, t *testing.T) (string, testcontainers.Container) {
	hostPort, err := getFreePort()
	require.NoError(t, err)

	containerInstance, err := createKafkaContainer(ctx, hostPort)
	require.NoError(t, err)

	host, err := containerInstance.Host(ctx)
	require.NoError(t, err)
	broker := net.JoinHostPort(host, hostPort)

	require.Eventually(t, func() bool {
		conn, err := kafka.Dial("tcp", broker)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 60*time.Second, 500*time.Millisecond, "Kafka broker not ready")

	return broker, containerInstance
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}))
}

func createKafkaContainer(ctx context.Context, hostPort string) (testcontainers.Container, error) {
	portBindings := nat.PortMap{
		"9092/tcp": []nat.PortBinding{{HostPort: hostPort}},
	}

	req := testcontainers.ContainerRequest{
		Image:        "apache/kafka:3.8.0",
		ExposedPorts: []string{"9092/tcp"},
		Env: map[string]string{
			"KAFKA_NODE_ID":                                  "1",
			"KAFKA_PROCESS_ROLES":                            "broker,controller",
			"KAFKA_LISTENERS":                                "PLAINTEXT://:9092,CONTROLLER://:9093",
			"KAFKA_ADVERTISED_LISTENERS":                     "PLAINTEXT://localhost:" + hostPort,
			"KAFKA_CONTROLLER_LISTENER_NAMES":                "CONTROLLER",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":           "CONTROLLER:PLAINTEXT,PLAINTEXT:PLAINTEXT",
			"KAFKA_CONTROLLER_QUORUM_VOTERS":                 "1@localhost:9093",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR":         "1",
			"KAFKA_TRANSACTION_STATE_LOG_REPLICATION_FACTOR": "1",
			"KAFKA_TRANSACTION_STATE_LOG_MIN_ISR":            "1",
			"KAFKA_GROUP_INITIAL_REBALANCE_DELAY_MS":         "0",
		},
		HostConfigModifier: func(cfg *container.HostConfig) {
			cfg.PortBindings = portBindings
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("9092/tcp").WithStartupTimeout(60*time.Second),
			wait.ForLog("Kafka Server started").WithStartupTimeout(60*time.Second),
		),
	}

	var containerInstance testcontainers.Container
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		containerInstance, lastErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if lastErr == nil {
			return containerInstance, nil
		}

		if strings.Contains(lastErr.Error(), "docker.sock") {
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}

		break
	}

	return nil, fmt.Errorf("failed to start Kafka container after 3 attempts: %w", lastErr)
}

func getFreePort() (string, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	return strconv.Itoa(addr.Port), nil
}
