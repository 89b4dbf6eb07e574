// Package dataio reads finder inputs from CSV and JSON and writes results
// as JSON that tolerates NaN and infinite values.
package dataio
