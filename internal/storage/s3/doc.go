/*
Package s3 provides an AWS S3 transport for the streaming file cache.

A Transport reads one object. Open issues HeadObject to learn the size and
ETag; Fetch issues a ranged GetObject and hands the response body to the
cache, which consumes it chunk by chunk and abandons it by cancelling the
request context when a connection is replaced.

# Architecture Overview

	┌──────────────────────────────────────────┐
	│            cache.FileCache               │
	│     (one range stream at a time)         │
	└──────────────────────────────────────────┘
	                     │  types.Transport
	┌──────────────────────────────────────────┐
	│              s3.Transport                │
	│  HeadObject │ GetObject Range │ metrics  │
	└──────────────────────────────────────────┘
	                     │
	┌──────────────────────────────────────────┐
	│              AWS S3 Service              │
	└──────────────────────────────────────────┘

# Configuration

	cfg := s3.NewDefaultConfig()
	cfg.Region = "eu-west-1"
	cfg.Endpoint = "http://localhost:9000" // MinIO or LocalStack
	cfg.ForcePathStyle = true

	tr, err := s3.NewTransport(ctx, "my-bucket", "data/large.bin", cfg)

Credentials come from AccessKeyID/SecretAccessKey when set and from the
default AWS chain (environment, shared config, instance role) otherwise.

# Consistency

With PinETag set (the default) every range request carries If-Match with the
ETag returned by Open. If the object is replaced while it is being read, S3
answers 412 and the read fails with a non-retryable STORAGE_READ error
instead of returning bytes from two versions.

# Errors

SDK errors are translated into *errors.CacheError values:

	NoSuchKey, NotFound       → OBJECT_NOT_FOUND
	NoSuchBucket              → BUCKET_NOT_FOUND
	AccessDenied, Forbidden   → ACCESS_DENIED
	InvalidRange              → VALIDATION_INVALID_RANGE
	deadline exceeded         → CONNECTION_TIMEOUT (retryable)
	anything else             → STORAGE_READ (retryable unless 412)

The original SDK error stays reachable through errors.Unwrap.
*/
package s3
