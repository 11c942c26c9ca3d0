package rabbitmq

// QueueConfig очередь и ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// RoutingKeyActivated ключ событий об активации подписки.
const RoutingKeyActivated = "subscription.activated"

// GetNotificationQueues очереди, которые слушает бот.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notifications.subscription_activated", RoutingKey: RoutingKeyActivated},
	}
}
