// Package config reads the environment configuration of pipegrid. Values
// come from the process environment, optionally seeded from a `.env` file;
// command-line flags override them in the cli package.
package config
