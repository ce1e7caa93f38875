// Package cv holds the OpenCV-backed pieces of barpath: a template matcher,
// a VideoCapture frame source and the annotated preview writer.
//
// Building this package requires OpenCV 4 and cgo.
package cv
