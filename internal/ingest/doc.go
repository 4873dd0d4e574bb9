// Package ingest owns the upload pipeline: it accepts raw video files,
// queues transcode jobs, drives ffmpeg to produce multi-rendition HLS
// output, and reconciles catalog entries once their manifests appear on
// disk.
package ingest
