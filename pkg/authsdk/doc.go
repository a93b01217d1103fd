/*
Package authsdk is a typed client for the dashboard API's identity and tenant endpoints.

# Overview

SDKClient wraps the JSON-over-HTTPS surface under a single base URL:

	client := authsdk.NewSDKClient("https://api.example.com/api/v1")

	res, err := client.Login(ctx, authsdk.LoginRequest{Email: email, Password: password})
	var tfa *authsdk.TwoFactorRequiredError
	if errors.As(err, &tfa) {
		res, err = client.VerifyTwoFactor(ctx, tfa.UserID, code)
	}

# Authentication

The SDK does not hold tokens. Authorization and API-key headers are added by the
HTTPClient's transport, normally the token store's RoundTripper:

	client := authsdk.NewSDKClientWithTransport(baseURL, tokens.Transport(nil), 10*time.Second)

# Error Handling

Every method returns one of:

  - *TwoFactorRequiredError: Login needs a second factor
  - *NetworkError: the request never produced a response
  - *APIError: a non-2xx response, with the server's detail message verbatim

KindOf(err) classifies any of them into the error taxonomy (network, authentication,
authorization, not found, validation, server).
*/
package authsdk
