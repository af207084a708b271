// Command crystal is the backend of a photo gallery.
//
// Users register with an email and a public gallery id, group images into
// themed collections and add images either by URL or by uploading PNG and
// JPEG files. Anyone can browse a gallery; signed-in users like and comment
// on images. Every change is pushed to websocket subscribers of the
// affected gallery, collection or image.
//
// All state lives in Redis. Uploaded files are stored on disk under their
// MD5 sum with a generated thumbnail.
//
// Usage:
//
//	crystal serve --config config/config.json
//	crystal recount
//
// Configuration:
//
//	See config/config.json. CRYSTAL_* environment variables and a .env
//	file override it.
package main
