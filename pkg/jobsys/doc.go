// Package jobsys implements a small orchestration kernel for named build and
// test jobs: a registry of declarative recipes, a step executor based on
// os/exec and mvdan.cc/sh, a sequential job runner and pluggable reporting
// sinks. Recipes can be loaded from YAML files or Starlark scripts.
package jobsys
