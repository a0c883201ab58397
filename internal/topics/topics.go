// Package topics holds the bus topic layout shared by the intake service,
// the classification worker and the CLI.
package topics

import "strings"

const (
	// Classify carries classification requests to the worker.
	Classify = "project/classify"
	// ClassifyResponse is the shared, unkeyed response topic. Keyed
	// responses live underneath it.
	ClassifyResponse = "response/project/classify"
	// ClassifyError carries classification failures.
	ClassifyError = "response/project/classify/error"
)

// ClassifyResponseFor returns the keyed response topic for a request id.
func ClassifyResponseFor(requestID string) string {
	return ClassifyResponse + "/" + requestID
}

// IntakeFilter returns the wildcard filter for inbound tasks, e.g. "mcp/+".
func IntakeFilter(prefix string) string {
	return prefix + "/+"
}

// IntakeFor returns the inbound task topic addressed to an agent.
func IntakeFor(prefix, agent string) string {
	return prefix + "/" + agent
}

// TargetAgent extracts the agent segment from an intake topic. Topics with
// no second segment resolve to def.
func TargetAgent(topic, def string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[1] == "" {
		return def
	}
	return parts[1]
}

// TodoResponse is the success notification topic for an agent.
func TodoResponse(agent string) string {
	return "response/" + agent + "/todo"
}

// ErrorResponse is the failure notification topic for an agent.
func ErrorResponse(agent string) string {
	return "response/" + agent + "/error"
}

// Control is the operational control topic for a service.
func Control(service string) string {
	return service + "/control"
}

// Metrics is the periodic telemetry topic for a service.
func Metrics(service string) string {
	return "metrics/response/" + service
}

// Status is the on-demand and shutdown status topic for a service.
func Status(service string) string {
	return "response/" + service + "/status"
}
