/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package conn

import (
	"github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaiOption "github.com/openai/openai-go/v3/option"
)

func GetOpenAIClient(baseURL, apiKey string) *openai.Client {
	opts := []openaiOption.RequestOption{openaiOption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiOption.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &client
}

func GetAnthropicClient(baseURL, apiKey string) anthropic.Client {
	opts := []anthropicOption.RequestOption{anthropicOption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicOption.WithBaseURL(baseURL))
	}
	return anthropic.NewClient(opts...)
}
