// Package liasse forms fixed-size bundles ("liasses") of units out of numbered
// piles and keeps a reversible ledger of the bundles that have been physically
// assembled. Everything in this package is pure: functions take values and
// return fresh values, with no I/O and no shared state.
package liasse
