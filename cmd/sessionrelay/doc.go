// Package main runs the in-memory HTTP relay that backs
// internal/relayclient, standing in for a domain.SessionTransport
// server side during local development and demos. It implements the
// envelope/one-time-key/configuration operations the transport needs,
// with register/fetch/ack style handlers over a single in-memory state.
//
// HTTP API (all bodies BSON, content-type application/bson)
//
//	POST /config/{secretName}        publish a signed UserConfiguration
//	GET  /config/{secretName}        fetch the current UserConfiguration
//	GET  /keys/{kind}/{secretName}/{deviceID}         list stored signed one-time keys
//	GET  /keys/{kind}/{secretName}/{deviceID}/one     fetch the first stored signed one-time key (it stays stored)
//	POST /keys/{kind}/{secretName}/{deviceID}         publish/replace signed one-time keys
//	DELETE /keys/{kind}/{secretName}/{deviceID}/{id}  delete one signed one-time key by id
//	POST /keys/{kind}/{secretName}/{deviceID}/batch-delete  delete several by id
//	POST /keys/rotated/{secretName}/{deviceID}        publish rotated long-term/signing keys
//	POST /message/{secretName}/{deviceID}             enqueue a SignedRatchetMessage
//	GET  /inbox/{secretName}/{deviceID}?limit=N        fetch queued messages
//	POST /inbox/{secretName}/{deviceID}/ack            drop the first N queued messages
//	POST /upload/{secretName}/{deviceID}              mint an UploadPacket handle
//	GET  /healthz                                     liveness probe
//
// All state is held in memory and lost on process exit; kind is "curve" or
// "kyber". The relay never sees plaintext or private keys.
package main
