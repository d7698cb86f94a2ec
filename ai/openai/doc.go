// Package openai implements ai.Embedder using OpenAI-compatible embedding
// APIs via langchaingo. It works against OpenAI itself as well as local
// OpenAI-compatible servers such as Ollama, LocalAI and vLLM.
package openai
