// Package target turns mention markup into the set of recipients of a message.
//
// Three disjoint marker syntaxes are recognised:
//
//	@[name]  agent
//	/[name]  team
//	![name]  workflow
//
// Names are matched exactly against the Directory. Every resolved mention
// receives the message; a mention that matches nothing is reported as a
// Failure without blocking the rest. Text without mentions goes to the
// default target.
package target
