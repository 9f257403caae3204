// Package agents contains the workers that live on the message bus: the
// balance and sentiment monitors, the aggregator adapter and the graph
// agent. Each one implements bus.Handler and answers with Message.Reply so
// correlation ids travel with every response.
package agents
