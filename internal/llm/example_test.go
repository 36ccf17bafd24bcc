package llm_test

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/riya/internal/llm"
)

// ExampleCircuitBreaker demonstrates basic usage of the circuit breaker.
func ExampleCircuitBreaker() {
	cb := llm.NewCircuitBreaker("ollama")

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "response from LLM", nil
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Result: %v\n", result)
	// Output: Result: response from LLM
}

// ExampleCircuitBreaker_customConfig demonstrates creating a circuit breaker
// with custom configuration.
func ExampleCircuitBreaker_customConfig() {
	cb := llm.NewCircuitBreakerWithConfig(llm.CircuitBreakerConfig{
		Name:                 "openai",
		MaxFailures:          5,
		Timeout:              60 * time.Second,
		HalfOpenMaxSuccesses: 3,
	})

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "success", nil
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

// ExampleCircuitBreaker_State demonstrates checking the circuit breaker state.
func ExampleCircuitBreaker_State() {
	cb := llm.NewCircuitBreaker("ollama")

	fmt.Printf("Circuit breaker state: %s\n", cb.State())
	// Output: Circuit breaker state: closed
}

// ExampleCircuitBreaker_Metrics demonstrates accessing circuit breaker metrics.
func ExampleCircuitBreaker_Metrics() {
	cb := llm.NewCircuitBreaker("ollama")
	ctx := context.Background()

	_, _ = cb.Execute(ctx, func() (interface{}, error) {
		return "success", nil
	})

	metrics := cb.Metrics()
	fmt.Printf("Total requests: %d\n", metrics.TotalRequests)
	fmt.Printf("Total successes: %d\n", metrics.TotalSuccesses)
	// Output: Total requests: 1
	// Total successes: 1
}

// ExampleDecodeStrict shows a model response being decoded into a typed shape.
func ExampleDecodeStrict() {
	var out struct {
		Relevance int `json:"relevance"`
	}
	err := llm.DecodeStrict(llm.OpRelevance, "```json\n{\"relevance\": 72}\n```", &out)
	fmt.Println(out.Relevance, err)
	// Output: 72 <nil>
}
