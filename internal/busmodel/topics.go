// Package busmodel holds the wire types exchanged over the nexus bus:
// topic names, Message and Run, and the role/status enums that govern
// the run lifecycle state machine.
package busmodel

// Topic is one of the closed set of channels the bus schedules.
type Topic string

const (
	TopicRunsNew             Topic = "runs.new"
	TopicContextBuildRequest Topic = "context.build.request"
	TopicContextBuildResp    Topic = "context.build.response"
	TopicLLMRequests         Topic = "llm.requests"
	TopicLLMResults          Topic = "llm.results"
	TopicToolsRequests       Topic = "tools.requests"
	TopicToolsResults        Topic = "tools.results"
	TopicUIEvents            Topic = "ui.events"
	TopicSystemCommand       Topic = "system.command"
	TopicCommandResult       Topic = "command.result"
)

// Topics lists the full closed catalog, in the order they appear in spec.
var Topics = []Topic{
	TopicRunsNew,
	TopicContextBuildRequest,
	TopicContextBuildResp,
	TopicLLMRequests,
	TopicLLMResults,
	TopicToolsRequests,
	TopicToolsResults,
	TopicUIEvents,
	TopicSystemCommand,
	TopicCommandResult,
}
