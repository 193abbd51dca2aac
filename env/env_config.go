package env

const (
	// POSTGRES

	EnvPostgresURL = "POSTGRES_URL"

	// REDIS

	EnvRedisURL = "REDIS_URL"

	// KAFKA

	EnvKafkaBrokers = "KAFKA_BROKERS"

	// NATS

	EnvNatsURL = "NATS_URL"

	// RabbitMQ

	EnvRabbitMQURL = "RABBITMQ_URL"

	// EVENT BUS

	EnvEventBusConsumerGroup = "EVENT_BUS_CONSUMER_GROUP"

	// GO DURA STORE

	EnvDatabaseURL = "GO_DURA_STORE_DATABASE_URL"
	EnvArchiveDir  = "GO_DURA_STORE_ARCHIVE_DIR"

	// ENVIRONMENT

	EnvGoEnvironment = "GO_ENV"
)
