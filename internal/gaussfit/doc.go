// Package gaussfit fits sums of Gaussian peaks on a linear background.
//
// Responsibilities: per-peak initial estimates from a small local window,
// a composite constrained fit with per-parameter box bounds, extraction of
// named per-peak parameter/error rows, and a second-pass refit for peaks
// whose first-pass uncertainties are unusable.
// Key types: Bound, Gaussian, Peak, Table, Fit.
//
// The package is pure: inputs are never modified and no file I/O is done.
package gaussfit
