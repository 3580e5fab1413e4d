package forge

import (
	"fmt"
	"strings"

	"sigs.k8s.io/kustomize/api/krusty"
	"sigs.k8s.io/kustomize/kyaml/filesys"
)

////////////////////////////////////////////////////////////////////////////////
// Runtime manifests for the exported image (metadata, never applied here)
////////////////////////////////////////////////////////////////////////////////

const (
	manifestRootDir      = "/manifests"
	manifestImagePlacehd = "kv-server-image"
)

func splitImageTag(imageTag string) (string, string) {
	idx := strings.LastIndex(imageTag, ":")
	if idx < 0 {
		return imageTag, "latest"
	}
	return imageTag[:idx], imageTag[idx+1:]
}

func renderDeploymentYAML() []byte {
	var b strings.Builder
	b.WriteString("apiVersion: apps/v1\n")
	b.WriteString("kind: Deployment\n")
	b.WriteString("metadata:\n")
	fmt.Fprintf(&b, "  name: %s\n", artifactServer)
	b.WriteString("spec:\n")
	b.WriteString("  replicas: 1\n")
	b.WriteString("  selector:\n")
	b.WriteString("    matchLabels:\n")
	fmt.Fprintf(&b, "      app: %s\n", artifactServer)
	b.WriteString("  template:\n")
	b.WriteString("    metadata:\n")
	b.WriteString("      labels:\n")
	fmt.Fprintf(&b, "        app: %s\n", artifactServer)
	b.WriteString("    spec:\n")
	b.WriteString("      containers:\n")
	fmt.Fprintf(&b, "        - name: %s\n", artifactServer)
	fmt.Fprintf(&b, "          image: %s\n", manifestImagePlacehd)
	// The image entry point runs with no default arguments.
	b.WriteString("          args: []\n")
	b.WriteString("          ports:\n")
	fmt.Fprintf(&b, "            - name: service\n              containerPort: %d\n", servicePort)
	fmt.Fprintf(&b, "            - name: status\n              containerPort: %d\n", statusPort)
	return []byte(b.String())
}

func renderServiceYAML() []byte {
	var b strings.Builder
	b.WriteString("apiVersion: v1\n")
	b.WriteString("kind: Service\n")
	b.WriteString("metadata:\n")
	fmt.Fprintf(&b, "  name: %s\n", artifactServer)
	b.WriteString("spec:\n")
	b.WriteString("  selector:\n")
	fmt.Fprintf(&b, "    app: %s\n", artifactServer)
	b.WriteString("  ports:\n")
	fmt.Fprintf(&b, "    - name: service\n      port: %d\n      targetPort: %d\n", servicePort, servicePort)
	fmt.Fprintf(&b, "    - name: status\n      port: %d\n      targetPort: %d\n", statusPort, statusPort)
	return []byte(b.String())
}

func renderKustomizationYAML(imageTag string) []byte {
	name, tag := splitImageTag(imageTag)
	var b strings.Builder
	b.WriteString("apiVersion: kustomize.config.k8s.io/v1beta1\n")
	b.WriteString("kind: Kustomization\n")
	b.WriteString("resources:\n")
	b.WriteString("  - deployment.yaml\n")
	b.WriteString("  - service.yaml\n")
	b.WriteString("images:\n")
	fmt.Fprintf(&b, "  - name: %s\n", manifestImagePlacehd)
	fmt.Fprintf(&b, "    newName: %s\n", name)
	fmt.Fprintf(&b, "    newTag: %q\n", tag)
	return []byte(b.String())
}

// renderRuntimeManifests kustomizes a Deployment+Service pair describing
// the exported image: both declared ports and the empty-args entry
// point.
func renderRuntimeManifests(imageTag string) (string, error) {
	fSys := filesys.MakeFsInMemory()
	inputs := map[string][]byte{
		"deployment.yaml":    renderDeploymentYAML(),
		"service.yaml":       renderServiceYAML(),
		"kustomization.yaml": renderKustomizationYAML(imageTag),
	}
	for name, body := range inputs {
		writeErr := fSys.WriteFile(manifestRootDir+"/"+name, body)
		if writeErr != nil {
			return "", fmt.Errorf("stage manifest input %s: %w", name, writeErr)
		}
	}
	kustomizer := krusty.MakeKustomizer(krusty.MakeDefaultOptions())
	resMap, err := kustomizer.Run(fSys, manifestRootDir)
	if err != nil {
		return "", fmt.Errorf("kustomize runtime manifests: %w", err)
	}
	rendered, err := resMap.AsYaml()
	if err != nil {
		return "", fmt.Errorf("serialize runtime manifests: %w", err)
	}
	return string(rendered), nil
}
