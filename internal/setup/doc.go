// Package setup prepares the host for image builds: default locations, the
// directories the pipeline writes to and a preflight check of the build tool.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
