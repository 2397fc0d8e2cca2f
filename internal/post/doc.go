// Package post holds the data shared by every stage of a publishing run:
// destinations, worksheet snapshots, composed messages, run outcomes and the
// error taxonomy that classifies failures.
package post
