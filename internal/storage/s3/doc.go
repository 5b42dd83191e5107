// Package s3 implements the backend object-store client on the AWS
// SDK. It is a thin transport: get/put/head/list by bucket and key,
// bounded request timeouts, and mapping of transport failures to the
// structured error taxonomy. Backend-reported outcomes are never
// masked.
package s3
