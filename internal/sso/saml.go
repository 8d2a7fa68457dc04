package sso

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/crewjam/saml"
	"github.com/lekesiz/bdc-auth/internal/models"
)

// SAML attribute names we accept for the linked e-mail and display name.
var (
	samlEmailAttributes = []string{"email", "mail", "urn:oid:0.9.2342.19200300.100.1.3"}
	samlNameAttributes  = []string{"displayName", "cn", "urn:oid:2.16.840.1.113730.3.1.241"}
)

type SAMLConfig struct {
	ProviderName string
	EntityID     string
	ACSURL       string
	MetadataURL  string

	// IDPMetadataXML is the identity provider's metadata document.
	IDPMetadataXML []byte

	// CertificatePEM and KeyPEM identify this service provider for request
	// signing and assertion decryption.
	CertificatePEM []byte
	KeyPEM         []byte
}

// SAMLProvider implements Provider over the HTTP-Redirect request binding
// and HTTP-POST response binding.
type SAMLProvider struct {
	name string
	sp   *saml.ServiceProvider
}

func NewSAMLProvider(cfg SAMLConfig) (*SAMLProvider, error) {
	acsURL, err := url.Parse(cfg.ACSURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ACS URL: %w", err)
	}
	metadataURL, err := url.Parse(cfg.MetadataURL)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata URL: %w", err)
	}

	var idpMetadata saml.EntityDescriptor
	if err := xml.Unmarshal(cfg.IDPMetadataXML, &idpMetadata); err != nil {
		return nil, fmt.Errorf("failed to parse IDP metadata: %w", err)
	}

	key, cert, err := parseKeyPair(cfg.CertificatePEM, cfg.KeyPEM)
	if err != nil {
		return nil, err
	}

	name := cfg.ProviderName
	if name == "" {
		name = "saml"
	}

	return &SAMLProvider{
		name: name,
		sp: &saml.ServiceProvider{
			EntityID:    cfg.EntityID,
			Key:         key,
			Certificate: cert,
			AcsURL:      *acsURL,
			MetadataURL: *metadataURL,
			IDPMetadata: &idpMetadata,
		},
	}, nil
}

func (p *SAMLProvider) Name() string { return p.name }

// Metadata returns this service provider's metadata document for IDP
// configuration.
func (p *SAMLProvider) Metadata() *saml.EntityDescriptor {
	return p.sp.Metadata()
}

func (p *SAMLProvider) Begin(state string) (string, string, error) {
	bindingLocation := p.sp.GetSSOBindingLocation(saml.HTTPRedirectBinding)
	if bindingLocation == "" {
		return "", "", fmt.Errorf("%w: IDP does not support the redirect binding", models.ErrProviderError)
	}

	authReq, err := p.sp.MakeAuthenticationRequest(bindingLocation, saml.HTTPRedirectBinding, saml.HTTPPostBinding)
	if err != nil {
		return "", "", fmt.Errorf("%w: failed to build authentication request: %v", models.ErrProviderError, err)
	}

	redirectURL, err := authReq.Redirect(state, p.sp)
	if err != nil {
		return "", "", fmt.Errorf("%w: failed to sign redirect: %v", models.ErrProviderError, err)
	}
	return redirectURL.String(), authReq.ID, nil
}

func (p *SAMLProvider) Complete(ctx context.Context, callback CallbackData) (*models.ExternalProfile, error) {
	if callback.SAMLResponse == "" {
		return nil, fmt.Errorf("%w: missing SAMLResponse", models.ErrBadRequest)
	}

	responseXML, err := base64.StdEncoding.DecodeString(callback.SAMLResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: SAMLResponse is not valid base64", models.ErrBadRequest)
	}

	var possibleRequestIDs []string
	if callback.RequestID != "" {
		possibleRequestIDs = append(possibleRequestIDs, callback.RequestID)
	}

	assertion, err := p.sp.ParseXMLResponse(responseXML, possibleRequestIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: assertion rejected: %v", models.ErrTokenInvalid, err)
	}
	return p.profileFromAssertion(assertion)
}

func (p *SAMLProvider) profileFromAssertion(assertion *saml.Assertion) (*models.ExternalProfile, error) {
	if assertion.Subject == nil || assertion.Subject.NameID == nil || assertion.Subject.NameID.Value == "" {
		return nil, fmt.Errorf("%w: assertion has no subject NameID", models.ErrProviderError)
	}
	nameID := assertion.Subject.NameID.Value

	attrs := make(map[string]any)
	for _, statement := range assertion.AttributeStatements {
		for _, attr := range statement.Attributes {
			name := attr.FriendlyName
			if name == "" {
				name = attr.Name
			}
			values := make([]string, 0, len(attr.Values))
			for _, v := range attr.Values {
				values = append(values, v.Value)
			}
			if len(values) == 1 {
				attrs[name] = values[0]
			} else {
				attrs[name] = values
			}
		}
	}

	email := firstAttribute(assertion, samlEmailAttributes)
	if email == "" && strings.Contains(nameID, "@") {
		email = nameID
	}
	if email == "" {
		return nil, fmt.Errorf("%w: assertion carries no e-mail attribute", models.ErrProviderError)
	}

	return &models.ExternalProfile{
		Provider:       p.name,
		ProviderUserID: nameID,
		Email:          strings.ToLower(email),
		Name:           firstAttribute(assertion, samlNameAttributes),
		Raw:            attrs,
	}, nil
}

func firstAttribute(assertion *saml.Assertion, names []string) string {
	for _, statement := range assertion.AttributeStatements {
		for _, attr := range statement.Attributes {
			for _, name := range names {
				if attr.Name == name || attr.FriendlyName == name {
					for _, v := range attr.Values {
						if v.Value != "" {
							return v.Value
						}
					}
				}
			}
		}
	}
	return ""
}

func parseKeyPair(certPEM, keyPEM []byte) (*rsa.PrivateKey, *x509.Certificate, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse service provider key pair: %w", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse service provider certificate: %w", err)
	}
	key, ok := pair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("service provider key must be RSA")
	}
	return key, cert, nil
}
