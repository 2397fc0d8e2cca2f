// Package sheet fetches a worksheet snapshot from a tabular source.
//
// A Source performs one read of several A1 ranges. The Fetcher wraps that
// read in a bounded exponential retry (transient errors only), then validates
// and normalizes the ranges into a post.Worksheet.
package sheet
