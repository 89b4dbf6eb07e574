// Package spectrum finds and fits peaks in 1D spectra: morphological
// baseline removal, prominence-ranked candidates, and greedy model
// selection over multi-Gaussian fits.
package spectrum
