// Package strategy picks one service instance out of several registered
// under the same name:
//
//   - Round Robin: Sequential distribution across instances
//   - Random: Random instance selection
//   - Least Response Time: Instance with the fastest last health probe
//
// Strategies never filter by status. Callers pass the candidates they are
// willing to use.
package strategy
