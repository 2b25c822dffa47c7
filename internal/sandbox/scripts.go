package sandbox

// DefaultHistogramScript is run when no usable code could be obtained from
// the model. It draws one histogram per numeric column of the staged data.
const DefaultHistogramScript = `import math
import os

import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt
import pandas as pd

df = pd.read_csv(os.environ.get("DATA_PATH", "data.csv"))
numeric = df.select_dtypes(include="number")

if numeric.shape[1] == 0:
    print("No numeric columns to plot.")
else:
    cols = min(3, numeric.shape[1])
    rows = math.ceil(numeric.shape[1] / cols)
    fig, axes = plt.subplots(rows, cols, figsize=(5 * cols, 4 * rows), squeeze=False)
    for ax, name in zip(axes.flat, numeric.columns):
        numeric[name].dropna().plot.hist(ax=ax, bins=20, edgecolor="black")
        ax.set_title(str(name))
    for ax in list(axes.flat)[numeric.shape[1]:]:
        ax.set_visible(False)
    fig.tight_layout()
    fig.savefig(os.environ.get("OUTPUT_IMAGE_PATH", "output.png"))
    print("Plotted histograms for %d numeric column(s)." % numeric.shape[1])
`
