// Package pattern tracks per-session object access streams and turns
// sequential structure into prefetch candidates. Robot training jobs
// read episode recordings in numeric order (pose/0000.json,
// pose/0001.json, ...), so the default detector looks for arithmetic
// runs in trailing digit groups. Detection strategies are pluggable
// through the SequenceDetector interface.
package pattern
