package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	Redis           Category = "Redis"
	RabbitMQ        Category = "RabbitMQ"
	NATS            Category = "NATS"
	Mongo           Category = "Mongo"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
	Sequencer       Category = "Sequencer"
	Presence        Category = "Presence"
	Socket          Category = "Socket"
	EventBus        Category = "EventBus"
	Assistant       Category = "Assistant"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	ExternalService SubCategory = "ExternalService"
	Api             SubCategory = "Api"

	// Broker
	Connection SubCategory = "Connection"
	Topology   SubCategory = "Topology"
	Publish    SubCategory = "Publish"
	Consume    SubCategory = "Consume"
	Request    SubCategory = "Request"

	// Sequencer
	Enqueue SubCategory = "Enqueue"
	Process SubCategory = "Process"
	Halt    SubCategory = "Halt"

	// Presence / sockets
	Handshake  SubCategory = "Handshake"
	Membership SubCategory = "Membership"
	FanOut     SubCategory = "FanOut"
	Protocol   SubCategory = "Protocol"

	Insert SubCategory = "Insert"
	Select SubCategory = "Select"
	Update SubCategory = "Update"
)

const (
	AppName       ExtraKey = "AppName"
	LoggerName    ExtraKey = "Logger"
	ClientIp      ExtraKey = "ClientIp"
	HostIp        ExtraKey = "HostIp"
	Method        ExtraKey = "Method"
	StatusCode    ExtraKey = "StatusCode"
	BodySize      ExtraKey = "BodySize"
	Path          ExtraKey = "Path"
	Latency       ExtraKey = "Latency"
	RequestBody   ExtraKey = "RequestBody"
	ResponseBody  ExtraKey = "ResponseBody"
	ErrorMessage  ExtraKey = "ErrorMessage"
	RoomID        ExtraKey = "RoomId"
	UserID        ExtraKey = "UserId"
	SocketID      ExtraKey = "SocketId"
	MessageID     ExtraKey = "MessageId"
	Exchange      ExtraKey = "Exchange"
	RoutingKey    ExtraKey = "RoutingKey"
	Queue         ExtraKey = "Queue"
	Topic         ExtraKey = "Topic"
	CorrelationID ExtraKey = "CorrelationId"
	TaskKind      ExtraKey = "TaskKind"
	Pending       ExtraKey = "Pending"
	Event         ExtraKey = "Event"
	Attempt       ExtraKey = "Attempt"
	Delay         ExtraKey = "Delay"
)
