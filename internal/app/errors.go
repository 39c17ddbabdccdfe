package service

import "errors"

// Sentinel errors returned by the Service.
var (
	// ErrBackpressure means the submission queue is full; retry later.
	ErrBackpressure = errors.New("submission queue is full")
	// ErrNotStarted means Submit was called before Start or after Stop.
	ErrNotStarted = errors.New("service is not running")
	// ErrInvalidUpload means the upload names no participant.
	ErrInvalidUpload = errors.New("upload needs a participant id")
	// ErrUnsupportedFile means the upload is not named like a CSV file.
	ErrUnsupportedFile = errors.New("only .csv files are accepted")
	// ErrNoReference means the reference table could not be loaded.
	ErrNoReference = errors.New("reference table unavailable")
)
